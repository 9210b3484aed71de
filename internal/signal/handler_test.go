package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMessenger struct {
	messages     chan IncomingMessage
	subscribeErr error
}

func (m *stubMessenger) Send(context.Context, string, OutgoingMessage) error {
	return nil
}

func (m *stubMessenger) Subscribe(context.Context) (<-chan IncomingMessage, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	return m.messages, nil
}

type recordingQueue struct {
	err      error
	messages []IncomingMessage
	mu       sync.Mutex
}

func (q *recordingQueue) Enqueue(_ context.Context, msg IncomingMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, msg)
	return nil
}

func (q *recordingQueue) received() []IncomingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]IncomingMessage(nil), q.messages...)
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(nil, &recordingQueue{})
	require.Error(t, err)

	_, err = NewHandler(&stubMessenger{}, nil)
	require.Error(t, err)
}

func TestHandler_EnqueuesUntilCancelled(t *testing.T) {
	messenger := &stubMessenger{messages: make(chan IncomingMessage, 10)}
	queue := &recordingQueue{}
	h, err := NewHandler(messenger, queue)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- h.Start(ctx) }()

	messenger.messages <- IncomingMessage{From: "+15550001", Text: "Morning"}
	messenger.messages <- IncomingMessage{From: "+15550002", Text: "Other day"}

	require.Eventually(t, func() bool { return len(queue.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.IsRunning())

	err = h.Start(ctx)
	require.Error(t, err, "second Start must fail while running")

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not stop")
	}
	assert.False(t, h.IsRunning())
	assert.Equal(t, "Morning", queue.received()[0].Text)
}

func TestHandler_EnqueueFailureIsNotFatal(t *testing.T) {
	messenger := &stubMessenger{messages: make(chan IncomingMessage, 10)}
	queue := &recordingQueue{err: errors.New("queue stopped")}
	h, err := NewHandler(messenger, queue)
	require.NoError(t, err)

	messenger.messages <- IncomingMessage{From: "+15550001", Text: "Morning"}
	close(messenger.messages)

	err = h.Start(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestHandler_SubscribeError(t *testing.T) {
	h, err := NewHandler(&stubMessenger{subscribeErr: errors.New("no socket")}, &recordingQueue{})
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.False(t, h.IsRunning())
}
