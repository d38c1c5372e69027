package llm

import "fmt"

// Message roles accepted by the relay.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewTextMessage creates a message with the given role and content.
func NewTextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// Validate reports an error when the role is not one of user, assistant or system.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return fmt.Errorf("invalid message role %q", m.Role)
	}
}
