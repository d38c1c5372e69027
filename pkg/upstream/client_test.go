package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/upstream"
)

func chatRequest() *llm.ChatRequest {
	stream := false
	req := &llm.ChatRequest{
		Model:    "openai/gpt-4o-mini",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
		Stream:   &stream,
	}
	req.ApplyDefaults()
	return req
}

func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}
}

func drain(s *upstream.Stream) ([]string, error) {
	var ids []string
	for {
		c, err := s.Next(context.Background())
		if err != nil {
			return ids, err
		}
		ids = append(ids, c.ID)
	}
}

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		client  *upstream.Client
		release chan struct{}
	)

	start := func(h http.Handler, opts upstream.Options) {
		server = httptest.NewServer(h)
		opts.URL = server.URL + "/api/v1/chat/completions"
		client = upstream.NewClient(opts)
	}

	BeforeEach(func() {
		release = make(chan struct{})
	})

	AfterEach(func() {
		close(release)
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("Open", func() {
		It("posts a streaming request with provider headers", func() {
			var (
				gotHeaders http.Header
				gotBody    map[string]any
			)
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotHeaders = r.Header.Clone()
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				sseHandler("data: [DONE]")(w, r)
			}), upstream.Options{Referer: "https://example.test", Title: "Relay Test"})

			s, err := client.Open(context.Background(), chatRequest(), "sk-test")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			Expect(gotHeaders.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(gotHeaders.Get("HTTP-Referer")).To(Equal("https://example.test"))
			Expect(gotHeaders.Get("X-Title")).To(Equal("Relay Test"))
			Expect(gotHeaders.Get("Content-Type")).To(Equal("application/json"))

			Expect(gotBody).To(HaveKeyWithValue("model", "openai/gpt-4o-mini"))
			Expect(gotBody).To(HaveKeyWithValue("stream", true))
			Expect(gotBody).To(HaveKeyWithValue("temperature", 0.7))
			Expect(gotBody).To(HaveKeyWithValue("max_tokens", float64(1000)))
			Expect(gotBody["messages"]).To(Equal([]any{map[string]any{"role": "user", "content": "hi"}}))
		})

		It("surfaces the provider message of a rejected request", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"error":{"message":"invalid api key","code":401}}`)
			}), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "bad")
			Expect(s).To(BeNil())

			var rejected *upstream.RejectedError
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(rejected.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(rejected.Message).To(Equal("invalid api key"))
			Expect(err.Error()).To(Equal("upstream rejected request (status 401): invalid api key"))
		})

		It("includes provider metadata when present", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				io.WriteString(w, `{"error":{"message":"Provider returned error","metadata":{"raw":"model overloaded"}}}`)
			}), upstream.Options{})

			_, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).To(MatchError(ContainSubstring("status 502")))
			Expect(err).To(MatchError(ContainSubstring("(raw: model overloaded)")))
		})

		It("keeps a non-JSON error body verbatim", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				io.WriteString(w, "upstream connect error\n")
			}), upstream.Options{})

			_, err := client.Open(context.Background(), chatRequest(), "k")
			var rejected *upstream.RejectedError
			Expect(errors.As(err, &rejected)).To(BeTrue())
			Expect(rejected.Message).To(Equal("upstream connect error"))
			Expect(string(rejected.Body)).To(Equal("upstream connect error\n"))
		})

		It("falls back to the status text for an empty body", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}), upstream.Options{})

			_, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).To(MatchError("upstream rejected request (status 404): Not Found"))
		})

		It("reports a transport error when the provider is unreachable", func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			url := dead.URL
			dead.Close()

			c := upstream.NewClient(upstream.Options{URL: url})
			_, err := c.Open(context.Background(), chatRequest(), "k")

			var transport *upstream.TransportError
			Expect(errors.As(err, &transport)).To(BeTrue())
			Expect(transport.Op).To(Equal("connect"))
			Expect(errors.Is(err, upstream.ErrUpstreamTimeout)).To(BeFalse())
		})

		It("times out waiting for response headers", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}), upstream.Options{ConnectTimeout: 50 * time.Millisecond})

			_, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(errors.Is(err, upstream.ErrUpstreamTimeout)).To(BeTrue())
		})

		It("returns the context error when the caller cancels", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}), upstream.Options{})

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			_, err := client.Open(ctx, chatRequest(), "k")
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})

	Describe("Stream", func() {
		It("yields chunks in order and ends at [DONE]", func() {
			start(sseHandler(
				`data: {"id":"1","choices":[{"delta":{"content":"a"}}]}`,
				`data: {"id":"2","choices":[{"delta":{"content":"b"}}]}`,
				`data: [DONE]`,
				`data: {"id":"after"}`,
			), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			ids, err := drain(s)
			Expect(err).To(MatchError(io.EOF))
			Expect(ids).To(Equal([]string{"1", "2"}))

			_, err = s.Next(context.Background())
			Expect(err).To(MatchError(io.EOF))
		})

		It("ends normally when the connection closes without [DONE]", func() {
			start(sseHandler(`data: {"id":"only"}`), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			ids, err := drain(s)
			Expect(err).To(MatchError(io.EOF))
			Expect(ids).To(Equal([]string{"only"}))
		})

		It("skips malformed and non-data lines", func() {
			start(sseHandler(
				`: OPENROUTER PROCESSING`,
				`data: {"id":"1"}`,
				`data: {not json`,
				`event: ping`,
				`data: {"id":"2"}`,
			), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			ids, err := drain(s)
			Expect(err).To(MatchError(io.EOF))
			Expect(ids).To(Equal([]string{"1", "2"}))
		})

		It("skips a line longer than the line limit", func() {
			huge := `data: {"id":"big","pad":"` + strings.Repeat("x", sse.MaxLineSize) + `"}`
			start(sseHandler(
				`data: {"id":"1"}`,
				huge,
				`data: {"id":"after"}`,
				`data: [DONE]`,
			), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			ids, err := drain(s)
			Expect(err).To(MatchError(io.EOF))
			Expect(ids).To(Equal([]string{"1", "after"}))
		})

		It("times out when the provider goes silent", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				io.WriteString(w, "data: {\"id\":\"1\"}\n\n")
				w.(http.Flusher).Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}), upstream.Options{ReadTimeout: 50 * time.Millisecond})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			c, err := s.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).To(Equal("1"))

			_, err = s.Next(context.Background())
			Expect(errors.Is(err, upstream.ErrUpstreamTimeout)).To(BeTrue())

			var transport *upstream.TransportError
			Expect(errors.As(err, &transport)).To(BeTrue())
			Expect(transport.Op).To(Equal("read"))
		})

		It("does not count time between reads against the idle timeout", func() {
			start(sseHandler(`data: {"id":"1"}`, `data: {"id":"2"}`), upstream.Options{ReadTimeout: 50 * time.Millisecond})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			_, err = s.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			time.Sleep(100 * time.Millisecond)

			c, err := s.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).To(Equal("2"))
		})

		It("stops with the context error on cancellation", func() {
			start(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				select {
				case <-release:
				case <-r.Context().Done():
				}
			}), upstream.Options{})

			ctx, cancel := context.WithCancel(context.Background())
			s, err := client.Open(ctx, chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			time.AfterFunc(30*time.Millisecond, cancel)
			_, err = s.Next(ctx)
			Expect(err).To(MatchError(context.Canceled))
		})

		It("can be closed more than once", func() {
			start(sseHandler(`data: [DONE]`), upstream.Options{})

			s, err := client.Open(context.Background(), chatRequest(), "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())
			Expect(s.Close()).To(Succeed())
		})
	})
})
