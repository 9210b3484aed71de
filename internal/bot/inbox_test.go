package bot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tonometer/internal/bot"
	"github.com/Veraticus/tonometer/internal/queue"
	"github.com/Veraticus/tonometer/internal/signal"
)

// TestPipeline drives inbound Signal envelopes through the handler, queue,
// worker pool and engine, and checks the reading lands in the store.
func TestPipeline(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := queue.NewManager(ctx)
	go manager.Start()
	defer func() { _ = manager.Shutdown(time.Second) }()

	pool, err := queue.NewWorkerPool(queue.PoolConfig{
		Manager:     manager,
		Processor:   f.responder,
		RateLimiter: queue.NewRateLimiter(0, 1),
		Size:        3,
	})
	require.NoError(t, err)
	pool.Start(ctx)
	defer pool.Stop()

	inbound := signal.NewMockClient()
	handler, err := signal.NewHandler(signal.NewMessenger(inbound, "+15559999"), bot.NewInbox(manager))
	require.NoError(t, err)
	go func() { _ = handler.Start(ctx) }()

	for _, text := range []string{"yesterday", "Evening", "130/85"} {
		inbound.SimulateIncomingMessage(&signal.Envelope{
			SourceNumber: user,
			DataMessage:  &signal.DataMessage{Message: text},
		})
	}

	require.Eventually(t, func() bool {
		return len(f.client.Sent()) == 3
	}, 5*time.Second, 10*time.Millisecond)

	data, err := f.store.Export(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16 20:00:00,130/85\n", string(data))
}

type recordingSubmitter struct {
	got []*queue.Message
}

func (r *recordingSubmitter) Submit(_ context.Context, msg *queue.Message) error {
	r.got = append(r.got, msg)
	return nil
}

func TestInbox_KeysConversationBySender(t *testing.T) {
	sub := &recordingSubmitter{}
	inbox := bot.NewInbox(sub)

	require.NoError(t, inbox.Enqueue(context.Background(), signal.IncomingMessage{From: user, Text: "Morning"}))

	require.Len(t, sub.got, 1)
	assert.Equal(t, user, sub.got[0].ConversationID)
	assert.Equal(t, user, sub.got[0].Sender)
	assert.Equal(t, "Morning", sub.got[0].Text)
}
