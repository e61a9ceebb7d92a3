package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
)

// networkErrorMarkers are matched case-insensitively against error messages.
// The list is a floor: callers must not assume it recognises every network failure.
var networkErrorMarkers = []string{
	"network",
	"fetch",
	"disconnected",
	"timeout",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"unexpected eof",
}

// networkClassifier lets typed errors opt out of the message heuristic.
type networkClassifier interface {
	NetworkError() bool
}

// IsNetworkError reports whether err should be retried once connectivity allows.
// Cancellation and deadline expiry of the caller's context never count.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var classified networkClassifier
	if errors.As(err, &classified) {
		return classified.NetworkError()
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return true
	}
	// *url.Error implements net.Error for every failure, including a
	// malformed URL, so only its timeout counts.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
