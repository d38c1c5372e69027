package header

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BearerToken", func() {
	var (
		app *fiber.App
		hh  *Handler
		got string
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
		got = "unset"

		app.Post("/test", func(c *fiber.Ctx) error {
			got = hh.BearerToken(c)
			return c.SendStatus(fiber.StatusOK)
		})
	})

	AfterEach(func() {
		app.Shutdown()
	})

	DescribeTable("extracting the caller key",
		func(authorization, expected string) {
			req := httptest.NewRequest(http.MethodPost, "/test", nil)
			if authorization != "" {
				req.Header.Set("Authorization", authorization)
			}

			resp, err := app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(got).To(Equal(expected))
		},
		Entry("bearer key", "Bearer sk-or-123", "sk-or-123"),
		Entry("lowercase scheme", "bearer sk-or-123", "sk-or-123"),
		Entry("surrounding whitespace", "  Bearer   sk-or-123  ", "sk-or-123"),
		Entry("missing header", "", ""),
		Entry("other scheme", "Basic dXNlcjpwYXNz", ""),
		Entry("scheme without key", "Bearer", ""),
		Entry("blank key", "Bearer    ", ""),
	)
})

var _ = Describe("SetStreamHeaders", func() {
	var (
		app *fiber.App
		hh  *Handler
	)

	BeforeEach(func() {
		app = fiber.New()
		hh = NewHandler()
	})

	AfterEach(func() {
		app.Shutdown()
	})

	It("sets the SSE headers and the session id", func() {
		app.Get("/stream", func(c *fiber.Ctx) error {
			hh.SetStreamHeaders(c, "session-1")
			return c.SendString("event: done\ndata: {}\n\n")
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/stream", nil))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))
		Expect(resp.Header.Get("X-Accel-Buffering")).To(Equal("no"))
		Expect(resp.Header.Get(SessionIDHeader)).To(Equal("session-1"))
	})

	It("omits an empty session id", func() {
		app.Get("/plain", func(c *fiber.Ctx) error {
			hh.SetSessionID(c, "")
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/plain", nil))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.Header.Get(SessionIDHeader)).To(BeEmpty())
	})
})

var _ = Describe("SetGuestRemaining", func() {
	It("writes the remaining count as a decimal", func() {
		app := fiber.New()
		defer app.Shutdown()

		hh := NewHandler()
		app.Post("/test", func(c *fiber.Ctx) error {
			hh.SetGuestRemaining(c, 7)
			return c.SendStatus(fiber.StatusOK)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/test", nil))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()

		Expect(resp.Header.Get(GuestRemainingHeader)).To(Equal("7"))
	})
})
