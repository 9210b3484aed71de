package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrSubscriptionClosed indicates the inbound stream ended before shutdown.
var ErrSubscriptionClosed = errors.New("signal subscription closed")

// MessageEnqueuer accepts inbound messages for processing.
type MessageEnqueuer interface {
	Enqueue(ctx context.Context, msg IncomingMessage) error
}

// Handler pumps inbound Signal messages into the queue.
type Handler struct {
	messenger Messenger
	queue     MessageEnqueuer
	logger    *slog.Logger
	mu        sync.RWMutex
	running   bool
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger.With(slog.String("component", "signal-handler"))
		}
	}
}

// NewHandler creates a new Signal handler.
func NewHandler(messenger Messenger, queue MessageEnqueuer, opts ...HandlerOption) (*Handler, error) {
	if messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	h := &Handler{
		messenger: messenger,
		queue:     queue,
		logger:    slog.Default().With(slog.String("component", "signal-handler")),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Start receives messages until ctx is cancelled. It returns nil on
// cancellation and ErrSubscriptionClosed if the stream ends first.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("handler already running")
	}
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	messages, err := h.messenger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	h.logger.InfoContext(ctx, "signal handler started")
	defer h.logger.InfoContext(ctx, "signal handler stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			h.handleMessage(ctx, msg)
		}
	}
}

// handleMessage enqueues one message; failures are logged and dropped.
func (h *Handler) handleMessage(ctx context.Context, msg IncomingMessage) {
	h.logger.DebugContext(ctx, "received message",
		slog.String("from", msg.From),
		slog.Time("timestamp", msg.Timestamp),
		slog.Int("text_length", len(msg.Text)))

	if err := h.queue.Enqueue(ctx, msg); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue message",
			slog.String("from", msg.From),
			slog.Any("error", err))
	}
}

// IsRunning returns whether the handler is currently running.
func (h *Handler) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
