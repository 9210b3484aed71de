package queue

import "errors"

var (
	// ErrQueueStopped indicates the manager is shutting down and accepts no more work.
	ErrQueueStopped = errors.New("queue stopped")

	// ErrNilMessage indicates a nil message was submitted or completed.
	ErrNilMessage = errors.New("nil message")

	// ErrUnknownConversation indicates a completion for a conversation with no queue.
	ErrUnknownConversation = errors.New("unknown conversation")
)
