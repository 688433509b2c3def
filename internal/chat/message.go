package chat

import (
	"errors"
	"fmt"
)

// Roles understood by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidRole is returned by Validate for an empty or unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// Message represents a single conversational message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered conversation; order defines turn order.
type Transcript []Message

// Validate checks that every message carries a known role. Content is not
// inspected and turn order is not enforced.
func (t Transcript) Validate() error {
	for i, m := range t {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: %w: %q", i, ErrInvalidRole, m.Role)
		}
	}
	return nil
}
