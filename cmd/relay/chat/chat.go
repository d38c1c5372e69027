// Package chatcmder provides the chat command for interactive LLM chat
// through a running relay.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/utils"
	"github.com/papercomputeco/relay/relay"
	"github.com/papercomputeco/relay/relay/header"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

// errNoTerminalEvent is returned when the relay closes the stream without a
// done or error event.
var errNoTerminalEvent = errors.New("stream ended without a done or error event")

type chatCommander struct {
	flags config.FlagSet

	relayTarget     string
	apiKey          string
	model           string
	newConversation bool
	render          bool
	configDir       string
	debug           bool

	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	httpClient *http.Client
	dotdir     *dotdir.Manager
	logger     *slog.Logger
}

const chatLongDesc string = `Start an interactive chat session through a running relay.

Each message is sent with the conversation so far to the relay, and the
de-duplicated answer is printed as it streams in. The conversation is saved
to conversation.json in the .relay/ directory and resumed the next time
"relay chat" starts; pass --new to start over.

Examples:
  relay chat
  relay chat --model anthropic/claude-3.5-sonnet --relay-target http://localhost:8080
  relay chat --new --render`

const chatShortDesc string = "Interactive LLM chat through the relay"

func NewChatCmd() *cobra.Command {
	return newChatCmd(&chatCommander{
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	})
}

func newChatCmd(cmder *chatCommander) *cobra.Command {
	cmder.flags = config.Registry
	cmder.httpClient = &http.Client{}
	cmder.dotdir = dotdir.NewManager()

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, cmder.flags, []string{config.FlagRelayTarget})
			cmder.relayTarget = strings.TrimRight(v.GetString("client.relay_target"), "/")
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, cmder.flags, config.FlagRelayTarget, &cmder.relayTarget)
	cmd.Flags().StringVarP(&cmder.model, "model", "m", llm.DefaultModel, "Model name (e.g., openai/gpt-4o-mini)")
	cmd.Flags().StringVar(&cmder.apiKey, "api-key", "", "Bearer key sent to the relay (default: use the relay's configured key)")
	cmd.Flags().BoolVar(&cmder.newConversation, "new", false, "Discard the saved conversation and start fresh")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Render answers as markdown when stdout is a terminal")

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true), logger.WithWriter(c.errOut))

	state, err := c.loadConversation()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	if len(state.Messages) > 0 {
		fmt.Fprintf(c.out, "  %s Resuming conversation %s\n",
			cliui.SuccessMark,
			cliui.DimStyle.Render(fmt.Sprintf("(%d messages)", len(state.Messages))),
		)
	} else {
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}

	fmt.Fprintf(c.out, "  %s %s\n\n",
		cliui.KeyStyle.Render("Model:"),
		cliui.NameStyle.Render(state.Model),
	)
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(c.in)

	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		state.Messages = append(state.Messages, llm.NewTextMessage(llm.RoleUser, input))

		answer, err := c.turn(ctx, state)
		if err != nil {
			fmt.Fprintf(c.errOut, "\n  %s %v\n\n", cliui.FailMark, err)
			// Drop the failed user message so it can be retried.
			state.Messages = state.Messages[:len(state.Messages)-1]
			continue
		}

		state.Messages = append(state.Messages, llm.NewTextMessage(llm.RoleAssistant, answer))
		state.UpdatedAt = time.Now()
		if err := c.dotdir.SaveConversation(state, c.configDir); err != nil {
			c.logger.Warn("could not save conversation", "error", err)
		}

		fmt.Fprint(c.out, "\n\n")
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

func (c *chatCommander) loadConversation() (*dotdir.ConversationState, error) {
	if c.newConversation {
		if err := c.dotdir.ClearConversation(c.configDir); err != nil {
			return nil, fmt.Errorf("clearing conversation: %w", err)
		}
	}

	state, err := c.dotdir.LoadConversation(c.configDir)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if state == nil {
		state = &dotdir.ConversationState{}
	}
	if state.Model == "" || c.model != llm.DefaultModel {
		state.Model = c.model
	}
	return state, nil
}

// turn sends the conversation and prints the answer, either token by token
// or rendered as markdown once complete.
func (c *chatCommander) turn(ctx context.Context, state *dotdir.ConversationState) (string, error) {
	out, isFile := c.out.(*os.File)
	if !c.render || !isFile || !cliui.IsTerminal(out) {
		fmt.Fprint(c.out, assistantPrompt)
		return c.send(ctx, state, func(text string) {
			fmt.Fprint(c.out, text)
		})
	}

	var answer string
	err := cliui.Step(c.errOut, "waiting for the relay", func() error {
		var err error
		answer, err = c.send(ctx, state, nil)
		return err
	})
	if err != nil {
		return "", err
	}

	rendered, err := cliui.RenderMarkdown(answer)
	if err != nil {
		c.logger.Debug("markdown rendering failed", "error", err)
	}
	fmt.Fprint(c.out, rendered)
	return answer, nil
}

// send posts the conversation to the relay and reads its event stream. Each
// message event is passed to onContent; the concatenated text is returned
// once the done event arrives.
func (c *chatCommander) send(ctx context.Context, state *dotdir.ConversationState, onContent func(string)) (string, error) {
	stream := true
	body, err := json.Marshal(llm.ChatRequest{
		Model:    state.Model,
		Messages: state.Messages,
		Stream:   &stream,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"relay_target", c.relayTarget,
		"model", state.Model,
		"message_count", len(state.Messages),
	)

	url := c.relayTarget + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &detail) != nil || detail.Detail == "" {
			detail.Detail = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("relay returned status %d: %s", resp.StatusCode, detail.Detail)
	}

	c.logger.Debug("stream opened", "session_id", utils.Truncate(resp.Header.Get(header.SessionIDHeader), 8))

	var answer strings.Builder
	reader := sse.NewEventReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return answer.String(), fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			return answer.String(), errNoTerminalEvent
		}

		switch ev.Name() {
		case relay.EventMessage:
			var msg relay.MessagePayload
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				c.logger.Debug("skipping malformed message event", "error", err)
				continue
			}
			answer.WriteString(msg.Content)
			if onContent != nil {
				onContent(msg.Content)
			}

		case relay.EventDone:
			return answer.String(), nil

		case relay.EventError:
			var failure relay.ErrorPayload
			if err := json.Unmarshal([]byte(ev.Data), &failure); err != nil || failure.Detail == "" {
				failure.Detail = ev.Data
			}
			return answer.String(), fmt.Errorf("relay error: %s", failure.Detail)
		}
	}
}
