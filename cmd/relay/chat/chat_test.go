package chatcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/relay"
)

type relayEvent struct {
	name    string
	payload any
}

// fakeRelay serves the given events as an SSE stream and records the last
// request it received.
type fakeRelay struct {
	server *httptest.Server
	events []relayEvent

	mu       sync.Mutex
	lastAuth string
	lastReq  llm.ChatRequest
}

func (f *fakeRelay) request() (llm.ChatRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq, f.lastAuth
}

func newFakeRelay(events ...relayEvent) *fakeRelay {
	f := &fakeRelay{events: events}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastReq, f.lastAuth = req, r.Header.Get("Authorization")
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range f.events {
			_ = sse.WriteEvent(w, ev.name, ev.payload)
		}
	}))
	return f
}

func message(content string) relayEvent {
	return relayEvent{name: relay.EventMessage, payload: relay.MessagePayload{Content: content}}
}

func done() relayEvent {
	return relayEvent{name: relay.EventDone, payload: relay.DonePayload{Status: "complete"}}
}

func failure(detail string) relayEvent {
	return relayEvent{name: relay.EventError, payload: relay.ErrorPayload{Detail: detail}}
}

func newTestCommander(target string) *chatCommander {
	return &chatCommander{
		relayTarget: target,
		model:       llm.DefaultModel,
		in:          strings.NewReader(""),
		out:         &bytes.Buffer{},
		errOut:      &bytes.Buffer{},
		httpClient:  &http.Client{},
		dotdir:      dotdir.NewManager(),
		logger:      logger.Nop(),
	}
}

func conversation(text string) *dotdir.ConversationState {
	return &dotdir.ConversationState{
		Model:    "openai/gpt-4o-mini",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, text)},
	}
}

var _ = Describe("NewChatCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := NewChatCmd()
		Expect(cmd.Use).To(Equal("chat"))
	})

	It("has a --model flag defaulting to the relay default model", func() {
		cmd := NewChatCmd()
		flag := cmd.Flags().Lookup("model")
		Expect(flag).NotTo(BeNil())
		Expect(flag.Shorthand).To(Equal("m"))
		Expect(flag.DefValue).To(Equal(llm.DefaultModel))
	})

	It("has a --relay-target flag with the default relay address", func() {
		cmd := NewChatCmd()
		flag := cmd.Flags().Lookup("relay-target")
		Expect(flag).NotTo(BeNil())
		Expect(flag.DefValue).To(Equal("http://localhost:8080"))
	})

	It("has --new, --render and --api-key flags", func() {
		cmd := NewChatCmd()
		Expect(cmd.Flags().Lookup("new")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("render")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("api-key")).NotTo(BeNil())
	})
})

var _ = Describe("send", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("concatenates message events until done", func() {
		f := newFakeRelay(message("Hello"), message(", world"), done())
		DeferCleanup(f.server.Close)

		c := newTestCommander(f.server.URL)
		var seen []string
		answer, err := c.send(ctx, conversation("hi"), func(s string) { seen = append(seen, s) })

		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("Hello, world"))
		Expect(seen).To(Equal([]string{"Hello", ", world"}))
	})

	It("sends a streaming request with the conversation", func() {
		f := newFakeRelay(done())
		DeferCleanup(f.server.Close)

		c := newTestCommander(f.server.URL)
		_, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).NotTo(HaveOccurred())

		req, auth := f.request()
		Expect(req.Model).To(Equal("openai/gpt-4o-mini"))
		Expect(req.Streaming()).To(BeTrue())
		Expect(req.Messages).To(HaveLen(1))
		Expect(req.Messages[0].Content).To(Equal("hi"))
		Expect(auth).To(BeEmpty())
	})

	It("forwards the api key as a bearer token", func() {
		f := newFakeRelay(done())
		DeferCleanup(f.server.Close)

		c := newTestCommander(f.server.URL)
		c.apiKey = "sk-user"
		_, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).NotTo(HaveOccurred())
		_, auth := f.request()
		Expect(auth).To(Equal("Bearer sk-user"))
	})

	It("returns the detail of an error event", func() {
		f := newFakeRelay(message("partial"), failure("Upstream returned 401: bad key"))
		DeferCleanup(f.server.Close)

		c := newTestCommander(f.server.URL)
		answer, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).To(MatchError("relay error: Upstream returned 401: bad key"))
		Expect(answer).To(Equal("partial"))
	})

	It("fails when the stream ends without a terminal event", func() {
		f := newFakeRelay(message("partial"))
		DeferCleanup(f.server.Close)

		c := newTestCommander(f.server.URL)
		_, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).To(MatchError(errNoTerminalEvent))
	})

	It("reports the detail of a non-200 response", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"guest quota exceeded"}`))
		}))
		DeferCleanup(server.Close)

		c := newTestCommander(server.URL)
		_, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).To(MatchError("relay returned status 429: guest quota exceeded"))
	})

	It("fails when the relay is unreachable", func() {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		c := newTestCommander(url)
		_, err := c.send(ctx, conversation("hi"), nil)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("sending request to relay"))
	})
})

var _ = Describe("chat command", func() {
	var (
		configDir string
		out       *bytes.Buffer
		errOut    *bytes.Buffer
	)

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
		errOut = &bytes.Buffer{}
	})

	execute := func(input string, target string, args ...string) error {
		cmder := &chatCommander{
			in:     strings.NewReader(input),
			out:    out,
			errOut: errOut,
		}

		root := &cobra.Command{Use: "relay"}
		root.PersistentFlags().String("config-dir", "", "")
		root.PersistentFlags().BoolP("debug", "d", false, "")
		root.AddCommand(newChatCmd(cmder))
		root.SetArgs(append([]string{"chat", "--config-dir", configDir, "--relay-target", target}, args...))
		return root.Execute()
	}

	It("streams the answer and saves the conversation", func() {
		f := newFakeRelay(message("The quick"), message(" brown fox"), done())
		DeferCleanup(f.server.Close)

		Expect(execute("tell me\n/exit\n", f.server.URL)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("The quick brown fox"))

		state, err := dotdir.NewManager().LoadConversation(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).NotTo(BeNil())
		Expect(state.Messages).To(HaveLen(2))
		Expect(state.Messages[0].Role).To(Equal(llm.RoleUser))
		Expect(state.Messages[0].Content).To(Equal("tell me"))
		Expect(state.Messages[1].Role).To(Equal(llm.RoleAssistant))
		Expect(state.Messages[1].Content).To(Equal("The quick brown fox"))
	})

	It("resumes a saved conversation", func() {
		f := newFakeRelay(message("again"), done())
		DeferCleanup(f.server.Close)

		Expect(execute("first\n", f.server.URL)).To(Succeed())
		Expect(execute("second\n", f.server.URL)).To(Succeed())

		req, _ := f.request()
		Expect(req.Messages).To(HaveLen(3))
		Expect(out.String()).To(ContainSubstring("Resuming conversation"))
	})

	It("starts over with --new", func() {
		f := newFakeRelay(message("ok"), done())
		DeferCleanup(f.server.Close)

		Expect(execute("first\n", f.server.URL)).To(Succeed())
		Expect(execute("second\n", f.server.URL, "--new")).To(Succeed())

		req, _ := f.request()
		Expect(req.Messages).To(HaveLen(1))
		Expect(req.Messages[0].Content).To(Equal("second"))
	})

	It("keeps the conversation unchanged when a turn fails", func() {
		f := newFakeRelay(failure("Request was cancelled"))
		DeferCleanup(f.server.Close)

		Expect(execute("doomed\n", f.server.URL)).To(Succeed())
		Expect(errOut.String()).To(ContainSubstring("relay error: Request was cancelled"))

		state, err := dotdir.NewManager().LoadConversation(configDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(BeNil())
	})

	It("skips blank input lines", func() {
		f := newFakeRelay(message("ok"), done())
		DeferCleanup(f.server.Close)

		Expect(execute("\n   \nhello\n", f.server.URL)).To(Succeed())
		req, _ := f.request()
		Expect(req.Messages).To(HaveLen(1))
		Expect(req.Messages[0].Content).To(Equal("hello"))
	})
})
