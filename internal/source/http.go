package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 60 * time.Second

	defaultMaxRedirects = 5
	defaultUserAgent    = "linescout/1.0 (+https://github.com/nextlevelbuilder/linescout)"
)

// ErrReadTimeout is returned when a remote body stalls longer than the read timeout.
var ErrReadTimeout = errors.New("read timeout")

// FetchError reports a failed remote fetch: a transport error or a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPConfig holds configuration for the remote opener.
type HTTPConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	BlockPrivate   bool // refuse loopback/private/link-local targets
	Retry          RetryConfig
	MaxLineBytes   int
}

// HTTPOpener streams remote bodies with a bounded connect timeout and an
// idle read timeout.
type HTTPOpener struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPOpener(cfg HTTPConfig) *HTTPOpener {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	if cfg.BlockPrivate {
		dialer.Control = guardDialControl
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > defaultMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", defaultMaxRedirects)
			}
			if cfg.BlockPrivate {
				if err := checkURLHost(req.URL.String()); err != nil {
					return fmt.Errorf("redirect: %w", err)
				}
			}
			return nil
		},
	}

	return &HTTPOpener{cfg: cfg, client: client}
}

func (o *HTTPOpener) Open(ctx context.Context, loc Locator) (Source, error) {
	if loc.Kind != KindRemote {
		return nil, fmt.Errorf("%w: %q is not a URL", ErrInvalidLocator, loc.Value)
	}
	if o.cfg.BlockPrivate {
		if err := checkURLHost(loc.Value); err != nil {
			return nil, &FetchError{URL: loc.Value, Err: err}
		}
	}

	// reqCtx outlives Open: it is cancelled when the source is closed or the
	// body stalls past the read timeout.
	reqCtx, cancel := context.WithCancel(ctx)

	var resp *http.Response
	attempts, err := withRetry(ctx, o.cfg.Retry, func() error {
		r, err := o.get(reqCtx, loc.Value)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, isRetryableFetch)
	if err != nil {
		cancel()
		slog.Debug("remote source open failed", "url", loc.Value, "attempts", attempts, "error", err)
		return nil, err
	}

	body := newIdleTimeoutReader(resp.Body, o.cfg.ReadTimeout, cancel)
	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	slog.Debug("remote source opened",
		"url", loc.Value,
		"status", resp.StatusCode,
		"content_length", size,
		"attempts", attempts,
	)

	contentType := resp.Header.Get("Content-Type")
	s := newStream(body, func(r io.Reader) io.Reader { return decodeBody(r, contentType) }, o.cfg.MaxLineBytes)
	s.size = size
	s.closeFn = func() error {
		cancel()
		return body.Close()
	}
	s.wrapErr = func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FetchError{URL: loc.Value, Err: err}
	}
	return s, nil
}

func (o *HTTPOpener) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", o.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/*;q=0.9, */*;q=0.8")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// isRetryableFetch retries transport failures, 429 and 5xx.
func isRetryableFetch(err error) bool {
	if errors.Is(err, ErrBlockedHost) || errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if fe.StatusCode == 0 {
		return true
	}
	return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
}

// decodeBody converts a declared non-UTF-8 charset to UTF-8.
func decodeBody(r io.Reader, contentType string) io.Reader {
	if contentType == "" {
		return r
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r
	}
	label := params["charset"]
	if label == "" {
		return r
	}
	enc, name := charset.Lookup(label)
	if enc == nil || name == "utf-8" {
		return r
	}
	return enc.NewDecoder().Reader(r)
}

// idleTimeoutReader cancels the request when a single Read blocks longer
// than timeout. Time spent by the caller between reads is not counted.
type idleTimeoutReader struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutReader(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	r := &idleTimeoutReader{rc: rc, timeout: timeout}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			r.expired.Store(true)
			cancel()
		})
		r.timer.Stop()
	}
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	if r.timer == nil {
		return r.rc.Read(p)
	}
	r.timer.Reset(r.timeout)
	n, err := r.rc.Read(p)
	r.timer.Stop()
	if r.expired.Load() {
		return n, fmt.Errorf("%w after %s", ErrReadTimeout, r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	return r.rc.Close()
}
