package llm

import (
	"fmt"
	"time"
)

// ChatCompletion is the non-streaming response body, shaped like an OpenAI
// chat.completion object.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice is a single completion choice.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// NewChatCompletion wraps an assistant answer into a chat.completion object.
func NewChatCompletion(model, content, finishReason string, created time.Time) *ChatCompletion {
	if finishReason == "" {
		finishReason = "stop"
	}
	return &ChatCompletion{
		ID:      fmt.Sprintf("chatcmpl-%d", created.Unix()),
		Object:  "chat.completion",
		Created: created.Unix(),
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      NewTextMessage(RoleAssistant, content),
			FinishReason: finishReason,
		}},
	}
}
