package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/nextlevelbuilder/linescout/internal/source"
)

// describeError turns a search failure into a short, user-safe reason.
// Raw errors can carry internal paths and addresses, so they are only logged.
func describeError(err error) string {
	var fe *source.FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		switch fe.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Sprintf("not found (HTTP %d)", fe.StatusCode)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Sprintf("access denied (HTTP %d)", fe.StatusCode)
		case http.StatusTooManyRequests:
			return "rate limited by the server (HTTP 429)"
		default:
			return fmt.Sprintf("server returned HTTP %d", fe.StatusCode)
		}
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, source.ErrBlockedHost):
		return "this address is not allowed"
	case errors.Is(err, source.ErrReadTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "timed out"
	case errors.As(err, &dnsErr):
		return "host not found"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, os.ErrNotExist):
		return "file no longer exists"
	case errors.Is(err, os.ErrPermission):
		return "file is not readable"
	case errors.Is(err, source.ErrInvalidLocator):
		return "not a readable file or URL"
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, "connection reset", "broken pipe", "unexpected eof") {
		return "connection lost while reading"
	}
	if containsAny(lower, "tls", "x509", "certificate") {
		return "secure connection failed"
	}

	slog.Warn("unclassified search error", "error", err)
	return "could not be read"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
