package queue

import (
	"container/list"
	"fmt"
	"sync"
)

// ConversationQueue holds the messages of a single conversation.
// At most one message is in flight at a time and messages leave in FIFO order.
type ConversationQueue struct {
	messages       *list.List
	processing     *Message
	conversationID string
	mu             sync.Mutex
}

// NewConversationQueue creates a new queue for a conversation.
func NewConversationQueue(conversationID string) *ConversationQueue {
	return &ConversationQueue{
		conversationID: conversationID,
		messages:       list.New(),
	}
}

// Enqueue appends a message to the queue.
func (cq *ConversationQueue) Enqueue(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()

	if msg.ConversationID != cq.conversationID {
		return fmt.Errorf("message conversation %s does not match queue %s",
			msg.ConversationID, cq.conversationID)
	}

	cq.messages.PushBack(msg)
	return nil
}

// Dequeue removes and returns the next message.
// Returns nil if the queue is empty or a message is already in flight.
func (cq *ConversationQueue) Dequeue() *Message {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.processing != nil {
		return nil
	}

	front := cq.messages.Front()
	if front == nil {
		return nil
	}

	msg, ok := front.Value.(*Message)
	if !ok {
		return nil
	}
	cq.messages.Remove(front)
	cq.processing = msg

	return msg
}

// Requeue puts the in-flight message back at the head of the queue.
func (cq *ConversationQueue) Requeue() {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.processing == nil {
		return
	}
	cq.messages.PushFront(cq.processing)
	cq.processing = nil
}

// Complete releases the in-flight slot.
func (cq *ConversationQueue) Complete() {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.processing = nil
}

// Size returns the number of messages waiting.
func (cq *ConversationQueue) Size() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.messages.Len()
}

// IsProcessing reports whether a message is in flight.
func (cq *ConversationQueue) IsProcessing() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.processing != nil
}

// IsEmpty reports whether nothing is waiting and nothing is in flight.
func (cq *ConversationQueue) IsEmpty() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	return cq.messages.Len() == 0 && cq.processing == nil
}
