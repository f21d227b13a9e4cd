// Package source presents local files and remote HTTP bodies as lazy,
// forward-only sequences of text lines.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultMaxLineBytes caps how much of a single line is kept in memory.
	// The remainder of a longer line is consumed and counted, not kept.
	DefaultMaxLineBytes = 1 << 20

	readBufferSize = 64 * 1024
)

// Line is one line of a source with its terminator removed.
type Line struct {
	Number int
	Text   string
	// Bytes is how far this line advanced the source, in undecoded bytes,
	// terminator included. Summed over a whole source it equals Size().
	Bytes int64
}

// Source is a finite, non-restartable sequence of lines.
type Source interface {
	// Next returns the next line, or io.EOF when the source is exhausted.
	Next() (Line, error)
	// Size returns the declared total size in bytes, or 0 when unknown.
	Size() int64
	Close() error
}

// Opener opens a Source for a locator.
type Opener interface {
	Open(ctx context.Context, loc Locator) (Source, error)
}

// Mux dispatches to the opener for the locator's kind.
type Mux struct {
	File   Opener
	Remote Opener
}

func (m *Mux) Open(ctx context.Context, loc Locator) (Source, error) {
	switch loc.Kind {
	case KindLocal:
		if m.File == nil {
			return nil, fmt.Errorf("local sources are disabled")
		}
		return m.File.Open(ctx, loc)
	case KindRemote:
		if m.Remote == nil {
			return nil, fmt.Errorf("remote sources are disabled")
		}
		return m.Remote.Open(ctx, loc)
	default:
		return nil, fmt.Errorf("%w: unknown kind for %q", ErrInvalidLocator, loc.Value)
	}
}

// lineReader splits a byte stream into lines without holding more than
// maxLine bytes of any single line.
type lineReader struct {
	r       *bufio.Reader
	maxLine int
	buf     []byte
	n       int
}

func newLineReader(r io.Reader, maxLine int) *lineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize), maxLine: maxLine}
}

func (lr *lineReader) next() (Line, error) {
	lr.buf = lr.buf[:0]
	var consumed int64
	for {
		frag, err := lr.r.ReadSlice('\n')
		consumed += int64(len(frag))
		if room := lr.maxLine - len(lr.buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			lr.buf = append(lr.buf, frag...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && consumed > 0 {
				break
			}
			return Line{}, err
		}
		break
	}

	lr.n++
	text := strings.TrimRight(string(lr.buf), "\r\n")
	// Undecodable bytes are dropped so one bad sequence never fails a scan.
	text = strings.ToValidUTF8(text, "")
	return Line{Number: lr.n, Text: text, Bytes: consumed}, nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// stream is the Source shared by the file and HTTP openers.
type stream struct {
	lines   *lineReader
	size    int64
	closeFn func() error
	wrapErr func(error) error

	// Set when a decoder sits between the raw body and the line reader.
	raw      *countingReader // undecoded bytes pulled from the body
	decoded  *countingReader // decoded bytes pulled by the line reader
	consumed int64           // decoded bytes handed out as lines
	reported int64           // raw bytes handed out as lines
}

// newStream reads lines from raw through decode. decode may return its
// argument unchanged when no conversion is needed.
func newStream(raw io.Reader, decode func(io.Reader) io.Reader, maxLine int) *stream {
	rc := &countingReader{r: raw}
	dr := decode(rc)
	if dr == io.Reader(rc) {
		return &stream{lines: newLineReader(raw, maxLine)}
	}
	dc := &countingReader{r: dr}
	return &stream{lines: newLineReader(dc, maxLine), raw: rc, decoded: dc}
}

func (s *stream) Next() (Line, error) {
	line, err := s.lines.next()
	if err != nil {
		if !errors.Is(err, io.EOF) && s.wrapErr != nil {
			return line, s.wrapErr(err)
		}
		return line, err
	}
	if s.raw != nil {
		line.Bytes = s.rawBytes(line.Bytes)
	}
	return line, nil
}

// rawBytes converts a line's decoded length into undecoded bytes, scaling
// by the raw/decoded ratio of what has been read so far. Once every decoded
// byte has been handed out the running total equals the raw count exactly.
func (s *stream) rawBytes(decoded int64) int64 {
	s.consumed += decoded

	var total int64
	switch {
	case s.consumed >= s.decoded.n:
		total = s.raw.n
	case s.raw.n == s.decoded.n:
		total = s.consumed
	default:
		total = int64(float64(s.raw.n) * float64(s.consumed) / float64(s.decoded.n))
	}

	delta := total - s.reported
	if delta < 0 {
		delta = 0
	}
	s.reported += delta
	return delta
}

func (s *stream) Size() int64 { return s.size }

func (s *stream) Close() error {
	if s.closeFn == nil {
		return nil
	}
	fn := s.closeFn
	s.closeFn = nil
	return fn()
}
