package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Turn is one role-tagged message. Turns are immutable once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a subject's ordered turn log.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	SubjectID string    `json:"-"`
	StartTime time.Time `json:"start_time"`
	Turns     []Turn    `json:"turns"`
}

// ErrConversationNotFound is returned when a conversation id does not exist
// for the given subject.
var ErrConversationNotFound = errors.New("conversation not found")

// Store is an ordered-append conversation log keyed by subject.
type Store interface {
	// GetOrCreateConversation returns conversationID when it exists for
	// subjectID, or creates a new conversation when conversationID is empty.
	GetOrCreateConversation(ctx context.Context, subjectID, conversationID string) (string, error)

	// AppendTurn atomically appends one turn to the conversation.
	AppendTurn(ctx context.Context, subjectID, conversationID string, role Role, content string) error

	// ListTurns returns the turns of a conversation in insertion order.
	ListTurns(ctx context.Context, subjectID, conversationID string) ([]Turn, error)

	// ListConversations returns every conversation of subjectID with its turns.
	ListConversations(ctx context.Context, subjectID string) ([]Conversation, error)

	Close() error
}

func validateKeys(subjectID, conversationID string) error {
	if subjectID == "" {
		return errors.New("subject id is required")
	}
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	return nil
}

func validateTurn(role Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	if content == "" {
		return errors.New("turn content is empty")
	}
	return nil
}
