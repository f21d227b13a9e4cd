package search

import (
	"bytes"
	"io"
)

// DefaultMaxResultBytes keeps result files under Telegram's 50 MB bot upload limit.
const DefaultMaxResultBytes = 45 << 20

// Match is one matching line and the resource it came from.
type Match struct {
	Source string
	Text   string
}

// Result holds the matches of one scan (or of an aggregate scan).
// Matches past the byte budget are counted in Total but not stored.
type Result struct {
	Matches   []Match
	Total     int
	Truncated bool

	prefix bool
	size   int64
	limit  int64
}

func newResult(limit int64, prefix bool) *Result {
	return &Result{limit: limit, prefix: prefix}
}

func (r *Result) add(m Match) {
	r.Total++
	n := r.lineSize(m)
	if r.limit > 0 && r.size+n > r.limit {
		r.Truncated = true
		return
	}
	r.size += n
	r.Matches = append(r.Matches, m)
}

// merge appends other's stored matches, keeping the budget.
func (r *Result) merge(other *Result) {
	if other == nil {
		return
	}
	for _, m := range other.Matches {
		r.add(m)
	}
	// Matches other counted but did not store.
	if dropped := other.Total - len(other.Matches); dropped > 0 {
		r.Total += dropped
		r.Truncated = true
	}
}

func (r *Result) lineSize(m Match) int64 {
	n := int64(len(m.Text)) + 1
	if r.prefix {
		n += int64(len(m.Source)) + 3
	}
	return n
}

// WriteTo writes the result file: one match per line, prefixed with
// "[source] " for aggregate results.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, m := range r.Matches {
		var line string
		if r.prefix {
			line = "[" + m.Source + "] " + m.Text + "\n"
		} else {
			line = m.Text + "\n"
		}
		n, err := io.WriteString(w, line)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Bytes renders the result file.
func (r *Result) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(int(r.size))
	r.WriteTo(&buf)
	return buf.Bytes()
}
