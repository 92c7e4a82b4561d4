package session

import (
	"time"

	"github.com/google/uuid"

	"AraChat/internal/grounding"
)

// Role identifies who authored a message
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// GreetingText is the fixed opening line of every conversation
const GreetingText = "Hello! I'm A.R.A. I can help you find places, look up information, and answer your questions. How can I help you today?"

// Feedback is the star rating and optional comment attached to a model message
type Feedback struct {
	Rating    int     `json:"rating"`
	Comment   *string `json:"comment,omitempty"` // nil when no comment was submitted
	Submitted bool    `json:"submitted"`
}

// Message represents a single turn in the conversation
type Message struct {
	ID        string              `json:"id"`
	Role      Role                `json:"role"`
	Text      string              `json:"text"`
	Timestamp time.Time           `json:"timestamp"`
	IsError   bool                `json:"is_error,omitempty"`
	Grounding *grounding.Metadata `json:"grounding,omitempty"`
	Feedback  *Feedback           `json:"feedback,omitempty"`
}

// IDSource produces message identifiers
type IDSource func() string

// NewID returns a time-ordered UUIDv7 string. Falls back to a random UUID
// if the v7 generator fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Greeting builds the synthesized model message a log starts with
func Greeting(id string, now time.Time) Message {
	return Message{
		ID:        id,
		Role:      RoleModel,
		Text:      GreetingText,
		Timestamp: now,
	}
}

// Log is an ordered, append-only conversation record. A Log value is never
// mutated in place: Append and Update return a new Log and leave every
// previously returned value untouched.
type Log struct {
	messages []Message
}

// NewLog creates a log holding only the greeting
func NewLog(greeting Message) Log {
	return Log{messages: []Message{greeting}}
}

// Append returns a new log with m added at the end.
// Callers keep IDs unique; use NewID.
func (l Log) Append(m Message) Log {
	n := len(l.messages)
	// Capping capacity forces a fresh backing array, so two appends to the
	// same revision never share storage.
	return Log{messages: append(l.messages[:n:n], m)}
}

// All returns a copy of the messages in log order
func (l Log) All() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages
func (l Log) Len() int {
	return len(l.messages)
}

// Find looks up a message by ID
func (l Log) Find(id string) (Message, bool) {
	for _, m := range l.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// At returns the message at a zero-based position
func (l Log) At(i int) (Message, bool) {
	if i < 0 || i >= len(l.messages) {
		return Message{}, false
	}
	return l.messages[i], true
}

// Update replaces the message with the given ID by fn's result. If the
// message is missing or fn reports no change, the receiver is returned as is.
func (l Log) Update(id string, fn func(Message) (Message, bool)) Log {
	for i, m := range l.messages {
		if m.ID != id {
			continue
		}
		updated, changed := fn(m)
		if !changed {
			return l
		}
		updated.ID = m.ID
		updated.Role = m.Role
		messages := make([]Message, len(l.messages))
		copy(messages, l.messages)
		messages[i] = updated
		return Log{messages: messages}
	}
	return l
}
