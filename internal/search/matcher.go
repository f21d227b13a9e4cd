// Package search implements the streaming whole-word search engine.
package search

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

var (
	// ErrValidation marks requests rejected before any I/O.
	ErrValidation = errors.New("validation error")

	// ErrEmptyPattern is returned for an empty or whitespace-only target.
	ErrEmptyPattern = fmt.Errorf("%w: search pattern is empty", ErrValidation)
)

// matchTimeout bounds a single line match. Escaped literals never backtrack
// badly, but lines can be up to source.DefaultMaxLineBytes long.
const matchTimeout = 2 * time.Second

// Matcher reports whether a line contains a literal target as a whole word,
// case-insensitively. Word boundaries are Unicode-aware.
type Matcher struct {
	target string
	lower  string
	re     *regexp2.Regexp
}

// NewMatcher compiles target. Regex metacharacters in target are escaped, so
// it is always matched literally.
func NewMatcher(target string) (*Matcher, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyPattern
	}

	re, err := regexp2.Compile(`\b`+regexp2.Escape(target)+`\b`, regexp2.IgnoreCase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	re.MatchTimeout = matchTimeout

	return &Matcher{target: target, lower: strings.ToLower(target), re: re}, nil
}

// Target returns the trimmed literal being searched for.
func (m *Matcher) Target() string { return m.target }

// Match reports whether line contains the target as a whole word.
func (m *Matcher) Match(line string) bool {
	// Cheap substring check first; most lines do not contain the target at all.
	if !strings.Contains(strings.ToLower(line), m.lower) {
		return false
	}
	ok, err := m.re.MatchString(line)
	return err == nil && ok
}
