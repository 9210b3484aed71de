package bot

import (
	"context"

	"github.com/Veraticus/tonometer/internal/queue"
	"github.com/Veraticus/tonometer/internal/signal"
)

// Submitter accepts messages for scheduling.
type Submitter interface {
	Submit(ctx context.Context, msg *queue.Message) error
}

// Inbox feeds inbound Signal messages into the queue, one conversation per sender.
type Inbox struct {
	queue Submitter
}

// NewInbox creates an inbox over a queue.
func NewInbox(q Submitter) *Inbox {
	return &Inbox{queue: q}
}

// Enqueue implements signal.MessageEnqueuer.
func (i *Inbox) Enqueue(ctx context.Context, msg signal.IncomingMessage) error {
	return i.queue.Submit(ctx, queue.NewMessage(msg.From, msg.From, msg.Text))
}
