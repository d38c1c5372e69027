// Package upstream opens streaming chat completion requests against an
// OpenAI-compatible provider (OpenRouter by default) and yields the decoded
// chunks of the response one at a time.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
)

const (
	// DefaultURL is the OpenRouter chat completions endpoint.
	DefaultURL = "https://openrouter.ai/api/v1/chat/completions"

	DefaultReferer = "https://github.com/papercomputeco/relay"
	DefaultTitle   = "relay"

	// DefaultConnectTimeout bounds dialing, the TLS handshake and the wait
	// for response headers.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultReadTimeout bounds the silence between two stream lines.
	DefaultReadTimeout = 60 * time.Second

	// maxErrorBody caps how much of a rejected response is read.
	maxErrorBody = 1 << 20
)

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	URL            string
	Referer        string
	Title          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Logger         *slog.Logger

	// HTTPClient overrides the client built from ConnectTimeout.
	HTTPClient *http.Client
}

// Client opens upstream streams. It is safe for concurrent use; every Open
// uses its own connection.
type Client struct {
	url         string
	referer     string
	title       string
	readTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Referer == "" {
		opts.Referer = DefaultReferer
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
		httpClient = &http.Client{
			// No overall Timeout: a healthy stream can run for minutes. The
			// read idle timer in Stream bounds silence instead.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ConnectTimeout,
				DisableKeepAlives:     true,
				ForceAttemptHTTP2:     true,
			},
		}
	}

	return &Client{
		url:         opts.URL,
		referer:     opts.Referer,
		title:       opts.Title,
		readTimeout: opts.ReadTimeout,
		httpClient:  httpClient,
		logger:      opts.Logger,
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

// completionBody is the payload posted upstream. The relay always streams
// from the provider regardless of what its own caller asked for.
type completionBody struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Open posts req to the provider with apiKey as bearer credential and returns
// the response stream. A non-success status yields a *RejectedError carrying
// the provider's diagnostic; network failures yield a *TransportError.
//
// The returned Stream must be closed by the caller.
func (c *Client) Open(ctx context.Context, req *llm.ChatRequest, apiKey string) (*Stream, error) {
	body, err := json.Marshal(completionBody{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode upstream request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not create upstream request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("HTTP-Referer", c.referer)
	httpReq.Header.Set("X-Title", c.title)

	c.logger.Debug("opening upstream stream",
		"url", c.url,
		"model", req.Model,
		"message_count", len(req.Messages),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: "connect", Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		if readErr != nil {
			c.logger.Warn("could not read upstream error body", "error", readErr)
		}

		rejected := newRejectedError(resp.StatusCode, raw)
		c.logger.Error("upstream rejected request",
			"status", resp.StatusCode,
			"message", rejected.Message,
		)
		return nil, rejected
	}

	return newStream(resp, cancel, c.readTimeout, c.logger), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
