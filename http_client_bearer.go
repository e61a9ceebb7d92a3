package main

import (
	"net/http"
)

// bearerTransport authenticates every request with a static bearer token.
type bearerTransport struct {
	base  http.RoundTripper
	token string
}

// RoundTrip sets the Authorization header on a clone so the caller's request is untouched.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
