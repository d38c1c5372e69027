package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUpstreamTimeout matches any TransportError caused by the connect, response
// header or read idle timeout.
var ErrUpstreamTimeout = errors.New("upstream timed out")

// RejectedError is returned by Client.Open when the provider answers the
// initial request with a non-success status. The provider's diagnostic is
// preserved so callers can tell a bad credential from an outage.
type RejectedError struct {
	StatusCode int

	// Message is error.message from the provider body, or the body itself
	// when it is not the expected JSON shape.
	Message string

	// Raw is error.metadata.raw when the provider supplied one.
	Raw string

	// Body is the complete response body.
	Body []byte
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("upstream rejected request (status %d): %s", e.StatusCode, e.Message)
	if e.Raw != "" {
		msg += " (raw: " + e.Raw + ")"
	}
	return msg
}

// providerErrorBody is the OpenAI/OpenRouter error envelope.
type providerErrorBody struct {
	Error json.RawMessage `json:"error"`
}

type providerError struct {
	Message  string `json:"message"`
	Metadata struct {
		Raw any `json:"raw"`
	} `json:"metadata"`
}

func newRejectedError(status int, body []byte) *RejectedError {
	e := &RejectedError{StatusCode: status, Body: body}

	var envelope providerErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var pe providerError
		var plain string
		switch {
		case json.Unmarshal(envelope.Error, &pe) == nil && pe.Message != "":
			e.Message = pe.Message
			e.Raw = rawString(pe.Metadata.Raw)
		case json.Unmarshal(envelope.Error, &plain) == nil && plain != "":
			e.Message = plain
		}
	}

	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func rawString(v any) string {
	switch raw := v.(type) {
	case nil:
		return ""
	case string:
		return raw
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return fmt.Sprint(raw)
		}
		return string(b)
	}
}

// TransportError wraps a network failure talking to the provider. It is
// never retried.
type TransportError struct {
	// Op is the phase that failed: "connect" or "read".
	Op string

	// Timeout is set when the failure was a timeout.
	Timeout bool

	Err error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("upstream %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports a match against ErrUpstreamTimeout for timeouts.
func (e *TransportError) Is(target error) bool {
	return target == ErrUpstreamTimeout && e.Timeout
}
