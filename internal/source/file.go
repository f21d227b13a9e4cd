package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// FileOpener opens local files. A UTF-8 or UTF-16 byte order mark selects
// the matching decoder; without one the bytes are read as UTF-8.
type FileOpener struct {
	MaxLineBytes int
}

func (o *FileOpener) Open(_ context.Context, loc Locator) (Source, error) {
	if loc.Kind != KindLocal {
		return nil, fmt.Errorf("%w: %q is not a local path", ErrInvalidLocator, loc.Value)
	}

	f, err := os.Open(loc.Value)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.Value, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", loc.Value, err)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("open %s: not a regular file", loc.Value)
	}

	s := newStream(f, decodeBOM, o.MaxLineBytes)
	s.size = st.Size()
	s.closeFn = f.Close
	s.wrapErr = func(err error) error { return fmt.Errorf("read %s: %w", loc.Value, err) }
	return s, nil
}

func decodeBOM(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(encoding.Nop.NewDecoder()))
}
