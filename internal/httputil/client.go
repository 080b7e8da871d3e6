package httputil

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single weather provider round trip.
const DefaultTimeout = 10 * time.Second

// NewClient returns an HTTP client with the given timeout, or DefaultTimeout
// when timeout is zero.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}
