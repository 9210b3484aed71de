package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	staleLimiterInterval = 10 * time.Minute
	staleLimiterAge      = time.Hour
	processTimeout       = 30 * time.Second
)

// Processor handles one message. Returned errors are logged and mark the
// message failed; they do not stop the worker.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg *Message) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// PanicError wraps a panic recovered from a Processor.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("processor panic: %v", e.Value)
}

// PoolConfig holds configuration for a WorkerPool.
type PoolConfig struct {
	Manager     *Manager
	Processor   Processor
	RateLimiter RateLimiter // optional
	Logger      *slog.Logger
	Size        int
}

// WorkerPool runs a fixed number of workers pulling from a Manager.
type WorkerPool struct {
	config PoolConfig
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewWorkerPool validates config and creates a pool.
func NewWorkerPool(config PoolConfig) (*WorkerPool, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("queue manager is required")
	}
	if config.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if config.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", config.Size)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerPool{
		config: config,
		logger: logger.With(slog.String("component", "worker-pool")),
	}, nil
}

// Start launches the workers. They run until ctx is cancelled, Stop is
// called or the manager shuts down.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.config.Size {
		p.wg.Add(1)
		go p.run(ctx, i+1)
	}

	if cleaner, ok := p.config.RateLimiter.(interface {
		CleanupStale(maxAge time.Duration) int
	}); ok {
		p.wg.Add(1)
		go p.sweepLimiters(ctx, cleaner)
	}
}

// Stop cancels the workers and waits for in-flight messages to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With(slog.Int("worker", id))
	logger.DebugContext(ctx, "worker started")
	defer logger.DebugContext(ctx, "worker stopped")

	for {
		msg, err := p.config.Manager.RequestMessage(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueStopped) || ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "failed to request message", slog.Any("error", err))
			continue
		}

		p.handle(ctx, logger, msg)
	}
}

// handle processes one message and always releases its conversation.
func (p *WorkerPool) handle(ctx context.Context, logger *slog.Logger, msg *Message) {
	defer func() {
		if err := p.config.Manager.CompleteMessage(msg); err != nil {
			logger.ErrorContext(ctx, "failed to complete message",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
		}
	}()

	if p.config.RateLimiter != nil {
		if err := p.config.RateLimiter.Wait(ctx, msg.ConversationID); err != nil {
			msg.Fail(err)
			return
		}
	}

	// A message already taken off the queue is finished even during shutdown.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	if err := p.process(pctx, msg); err != nil {
		msg.Fail(err)
		logger.ErrorContext(ctx, "failed to process message",
			slog.String("message_id", msg.ID),
			slog.String("conversation", msg.ConversationID),
			slog.Any("error", err))
		return
	}

	if err := msg.Transition(StateCompleted); err != nil {
		logger.WarnContext(ctx, "unexpected message state",
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
	}
}

// process runs the processor, turning a panic into an error so one bad
// message cannot take the worker down.
func (p *WorkerPool) process(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.logger.ErrorContext(ctx, "PANIC in processor",
				slog.String("message_id", msg.ID),
				slog.Any("panic", r),
				slog.String("stack_trace", string(stack)))
			err = &PanicError{Value: r, Stack: stack}
		}
	}()

	return p.config.Processor.Process(ctx, msg)
}

func (p *WorkerPool) sweepLimiters(ctx context.Context, cleaner interface {
	CleanupStale(maxAge time.Duration) int
}) {
	defer p.wg.Done()

	ticker := time.NewTicker(staleLimiterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cleaner.CleanupStale(staleLimiterAge); n > 0 {
				p.logger.DebugContext(ctx, "removed idle rate limiters", slog.Int("count", n))
			}
		}
	}
}
