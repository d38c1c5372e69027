package relay

import (
	"errors"
	"net/http"

	"github.com/papercomputeco/relay/pkg/upstream"
)

var (
	// ErrMissingCredential is returned when neither the caller nor the relay
	// configuration supplies an upstream API key.
	ErrMissingCredential = errors.New("upstream API key not configured")

	// ErrClientCancelled records that the client went away or the request
	// context was cancelled before the stream finished.
	ErrClientCancelled = errors.New("client cancelled the request")
)

// ProviderError is a failure the provider reported inside the stream.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return "provider error: " + e.Message
}

// StatusCode maps a session error to the HTTP status of a non-streaming
// response.
func StatusCode(err error) int {
	var (
		rejected  *upstream.RejectedError
		transport *upstream.TransportError
		provider  *ProviderError
	)

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingCredential):
		return http.StatusInternalServerError
	case errors.Is(err, ErrClientCancelled):
		return http.StatusServiceUnavailable
	case errors.As(err, &rejected):
		return rejected.StatusCode
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &transport), errors.As(err, &provider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
