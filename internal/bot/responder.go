// Package bot connects the message queue, the conversation engine and the
// Signal gateway.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/tonometer/internal/engine"
	"github.com/Veraticus/tonometer/internal/queue"
	"github.com/Veraticus/tonometer/internal/signal"
)

// Engine runs one conversation turn.
type Engine interface {
	Handle(ctx context.Context, userID, text string) (engine.Reply, error)
}

// Responder handles a queued message by running an engine turn and sending
// the reply back through the messenger.
type Responder struct {
	engine    Engine
	messenger signal.Messenger
	logger    *slog.Logger
}

// NewResponder creates a responder.
func NewResponder(e Engine, messenger signal.Messenger) (*Responder, error) {
	if e == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}

	return &Responder{
		engine:    e,
		messenger: messenger,
		logger:    slog.Default().With(slog.String("component", "responder")),
	}, nil
}

// Process implements queue.Processor. The reply is sent even when the turn
// failed, so the user sees the failure prompt; both errors are returned.
func (r *Responder) Process(ctx context.Context, msg *queue.Message) error {
	reply, turnErr := r.engine.Handle(ctx, msg.ConversationID, msg.Text)
	if turnErr != nil {
		turnErr = fmt.Errorf("turn for %s: %w", msg.ConversationID, turnErr)
	}

	if reply.IsEmpty() {
		r.logger.DebugContext(ctx, "nothing to send",
			slog.String("user", msg.ConversationID),
			slog.String("state", reply.State.String()))
		return turnErr
	}

	var sendErr error
	if err := r.messenger.Send(ctx, msg.Sender, Render(reply)); err != nil {
		sendErr = fmt.Errorf("reply to %s: %w", msg.Sender, err)
	}

	return errors.Join(turnErr, sendErr)
}

// Render turns a reply into a Signal message. Signal has no reply keyboards,
// so options are listed below the text, one row per line.
func Render(reply engine.Reply) signal.OutgoingMessage {
	var b strings.Builder
	b.WriteString(reply.Text)

	if len(reply.Keyboard) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for i, row := range reply.Keyboard {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.Join(row, " | "))
		}
	}

	out := signal.OutgoingMessage{Text: b.String()}
	if a := reply.Attachment; a != nil {
		out.Files = []signal.File{{Name: a.Filename, Data: a.Data}}
	}
	return out
}
