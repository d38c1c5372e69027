// Package header handles the HTTP headers of the relay's client-facing leg:
// credential extraction on the way in and stream headers on the way out.
//
//	Client <--> Relay <--> Upstream LLM Provider
//
// Headers on the upstream leg are owned by pkg/upstream and never copied from
// the client.
package header

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SessionIDHeader carries the relay session ID back to the client. The same
// ID names the stored transcript.
const SessionIDHeader = "X-Relay-Session-Id"

// GuestRemainingHeader reports how many more sessions a guest may run on the
// relay's own credential. It is only set while a guest quota is enforced.
const GuestRemainingHeader = "X-Relay-Guest-Remaining"

const bearerScheme = "bearer"

// Handler manages headers on the client connection.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// streamHeaders are set on every SSE response.
var streamHeaders = map[string]string{
	fiber.HeaderContentType:  "text/event-stream",
	fiber.HeaderCacheControl: "no-cache",
	fiber.HeaderConnection:   "keep-alive",

	// Stops nginx style reverse proxies from buffering the stream.
	"X-Accel-Buffering": "no",
}

// BearerToken returns the caller's API key from "Authorization: Bearer <key>",
// or "" when the header is missing, uses another scheme or has an empty key.
func (h *Handler) BearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}

// SetStreamHeaders prepares the response for an SSE body.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx, sessionID string) {
	for k, v := range streamHeaders {
		c.Set(k, v)
	}
	h.SetSessionID(c, sessionID)
}

// SetSessionID exposes the session ID to the client.
func (h *Handler) SetSessionID(c *fiber.Ctx, sessionID string) {
	if sessionID != "" {
		c.Set(SessionIDHeader, sessionID)
	}
}

// SetGuestRemaining reports the caller's remaining guest sessions.
func (h *Handler) SetGuestRemaining(c *fiber.Ctx, remaining uint) {
	c.Set(GuestRemainingHeader, strconv.FormatUint(uint64(remaining), 10))
}
