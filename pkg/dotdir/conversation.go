package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
)

const (
	conversationFile = "conversation.json"
)

// ConversationState is the chat history "relay chat" resumes from.
type ConversationState struct {
	// Model the conversation was held with.
	Model string `json:"model"`

	// Messages in chronological order (oldest first).
	Messages []llm.Message `json:"messages"`

	UpdatedAt time.Time `json:"updated_at"`
}

// LoadConversation loads the conversation from a target .relay/conversation.json.
// Returns nil, nil if no conversation has been saved.
func (m *Manager) LoadConversation(overrideDir string) (*ConversationState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, conversationFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading conversation: %w", err)
	}

	state := &ConversationState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing conversation: %w", err)
	}

	return state, nil
}

// SaveConversation persists the conversation to a target .relay/conversation.json,
// creating ~/.relay/ when no directory exists yet.
func (m *Manager) SaveConversation(state *ConversationState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil conversation")
	}

	dir, err := m.Ensure(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, conversationFile), data, 0o600); err != nil {
		return fmt.Errorf("writing conversation: %w", err)
	}

	return nil
}

// ClearConversation removes the saved conversation so the next chat starts
// fresh. Returns nil if nothing was saved.
func (m *Manager) ClearConversation(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil || dir == "" {
		return err
	}

	if err := os.Remove(filepath.Join(dir, conversationFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing conversation: %w", err)
	}

	return nil
}
