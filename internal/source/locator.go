package source

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidLocator is returned when text cannot be turned into a locator.
var ErrInvalidLocator = errors.New("invalid locator")

// Kind tags a Locator.
type Kind int

const (
	KindLocal Kind = iota + 1
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Locator identifies a text resource: a local file path or an http(s) URL.
type Locator struct {
	Kind  Kind
	Value string
}

// Local returns a locator for a filesystem path.
func Local(path string) Locator { return Locator{Kind: KindLocal, Value: path} }

// Remote returns a locator for an http(s) URL.
func Remote(rawURL string) Locator { return Locator{Kind: KindRemote, Value: rawURL} }

func (l Locator) String() string { return l.Value }


// ParseRemote accepts only http:// and https:// URLs with a host.
func ParseRemote(text string) (Locator, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return Locator{}, fmt.Errorf("%w: URL must start with http:// or https://", ErrInvalidLocator)
	}
	u, err := url.Parse(text)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if u.Host == "" {
		return Locator{}, fmt.Errorf("%w: missing hostname", ErrInvalidLocator)
	}
	return Remote(text), nil
}

// ParseLocator accepts an http(s) URL or the path of an existing regular file.
func ParseLocator(text string) (Locator, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Locator{}, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	if loc, err := ParseRemote(text); err == nil {
		return loc, nil
	}
	st, err := os.Stat(text)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	if !st.Mode().IsRegular() {
		return Locator{}, fmt.Errorf("%w: %s is not a regular file", ErrInvalidLocator, text)
	}
	return Local(text), nil
}

// DisplayName derives a short resource name: the file base name, or the last
// URL path segment (falling back to the host).
func (l Locator) DisplayName() string {
	switch l.Kind {
	case KindLocal:
		return filepath.Base(l.Value)
	case KindRemote:
		u, err := url.Parse(l.Value)
		if err != nil {
			return l.Value
		}
		if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
			return base
		}
		return u.Host
	}
	return l.Value
}
