// Package queue serializes inbound messages per user and spreads users
// fairly across a pool of workers.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is where a message is in its lifecycle.
type State string

// Message states.
const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// transitions lists the states each state may move to.
var transitions = map[State][]State{
	StateQueued:     {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StateFailed, StateQueued},
	StateCompleted:  {},
	StateFailed:     {},
}

// CanTransition reports whether a message may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Message is one inbound text waiting to be handled for a conversation.
// ConversationID is the unit of ordering: messages sharing it are processed
// one at a time in arrival order.
type Message struct {
	ReceivedAt     time.Time
	err            error
	ID             string
	ConversationID string
	Sender         string
	Text           string
	state          State
	mu             sync.RWMutex
}

// NewMessage creates a queued message with a fresh identifier.
func NewMessage(conversationID, sender, text string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		ReceivedAt:     time.Now(),
		state:          StateQueued,
	}
}

// State returns the message's current state.
func (m *Message) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the message to a new state if the move is allowed.
func (m *Message) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.state, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.state, to)
	}
	m.state = to
	return nil
}

// Fail records err and marks the message failed.
func (m *Message) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.state = StateFailed
}

// Err returns the error the message failed with, if any.
func (m *Message) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}
