package backendauth

import "errors"

var (
	// ErrTokenUnavailable is returned when no bearer token could be obtained:
	// the endpoint failed, returned a malformed payload, or the refresh was
	// abandoned. Requests proceed unauthenticated in this state.
	ErrTokenUnavailable = errors.New("bearer token unavailable")
	// ErrClientClosed is returned from operations on a closed [Client].
	ErrClientClosed = errors.New("client closed")
)
