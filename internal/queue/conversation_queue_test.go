package queue

import (
	"errors"
	"sync"
	"testing"
)

func TestConversationQueue_EnqueueDequeue(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	msg1 := NewMessage("conv-1", "+15550001", "Morning")
	msg2 := NewMessage("conv-1", "+15550001", "120/80")

	if err := cq.Enqueue(msg1); err != nil {
		t.Fatalf("Failed to enqueue msg1: %v", err)
	}
	if err := cq.Enqueue(msg2); err != nil {
		t.Fatalf("Failed to enqueue msg2: %v", err)
	}

	if cq.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cq.Size())
	}

	if got := cq.Dequeue(); got != msg1 {
		t.Errorf("Expected msg1 first, got %v", got)
	}

	// Only one message may be in flight.
	if got := cq.Dequeue(); got != nil {
		t.Error("Should not dequeue while processing")
	}
	if !cq.IsProcessing() {
		t.Error("Expected queue to report processing")
	}

	cq.Complete()
	if got := cq.Dequeue(); got != msg2 {
		t.Errorf("Expected msg2, got %v", got)
	}

	cq.Complete()
	if !cq.IsEmpty() {
		t.Error("Expected queue to be empty")
	}
}

func TestConversationQueue_EnqueueErrors(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	if err := cq.Enqueue(nil); !errors.Is(err, ErrNilMessage) {
		t.Errorf("Expected ErrNilMessage, got %v", err)
	}

	if err := cq.Enqueue(NewMessage("conv-2", "+15550002", "hi")); err == nil {
		t.Error("Expected error for mismatched conversation")
	}
}

func TestConversationQueue_Requeue(t *testing.T) {
	cq := NewConversationQueue("conv-1")
	first := NewMessage("conv-1", "+15550001", "one")
	second := NewMessage("conv-1", "+15550001", "two")
	_ = cq.Enqueue(first)
	_ = cq.Enqueue(second)

	if got := cq.Dequeue(); got != first {
		t.Fatalf("Expected first message, got %v", got)
	}

	cq.Requeue()

	if cq.IsProcessing() {
		t.Error("Requeue should release the in-flight slot")
	}
	if got := cq.Dequeue(); got != first {
		t.Errorf("Requeued message should come back first, got %v", got)
	}

	// Requeue with nothing in flight is a no-op.
	cq.Complete()
	cq.Requeue()
	if cq.Size() != 1 {
		t.Errorf("Expected size 1, got %d", cq.Size())
	}
}

func TestConversationQueue_ConcurrentEnqueue(t *testing.T) {
	cq := NewConversationQueue("conv-1")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cq.Enqueue(NewMessage("conv-1", "+15550001", "x"))
		}()
	}
	wg.Wait()

	if cq.Size() != 50 {
		t.Errorf("Expected 50 messages, got %d", cq.Size())
	}
}

func TestMessage_Transitions(t *testing.T) {
	msg := NewMessage("conv-1", "+15550001", "hello")

	if msg.ID == "" {
		t.Fatal("Expected generated ID")
	}
	if msg.State() != StateQueued {
		t.Fatalf("Expected queued, got %s", msg.State())
	}

	if err := msg.Transition(StateCompleted); err == nil {
		t.Error("Queued message must not complete without processing")
	}
	if err := msg.Transition(StateProcessing); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := msg.Transition(StateCompleted); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := msg.Transition(StateProcessing); err == nil {
		t.Error("Completed is terminal")
	}

	other := NewMessage("conv-1", "+15550001", "hello")
	if other.ID == msg.ID {
		t.Error("Expected unique IDs")
	}

	cause := errors.New("boom")
	other.Fail(cause)
	if other.State() != StateFailed || !errors.Is(other.Err(), cause) {
		t.Errorf("Expected failed with cause, got %s / %v", other.State(), other.Err())
	}
}
