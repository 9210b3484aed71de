package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/tonometer/internal/metrics"
)

const (
	incomingBuffer = 100
	requestBuffer  = 10

	drainPollInterval = 10 * time.Millisecond
	loopExitGrace     = 100 * time.Millisecond
)

// Stats is a snapshot of the manager's queues.
type Stats struct {
	Conversations  int
	Queued         int
	Processing     int
	WaitingWorkers int
}

// Manager orchestrates conversation queues with round-robin scheduling.
// A conversation never has more than one message handed to workers.
type Manager struct {
	ctx               context.Context
	cancel            context.CancelFunc
	logger            *slog.Logger
	queues            map[string]*ConversationQueue
	incomingCh        chan *Message
	requestCh         chan chan *Message
	started           chan struct{}
	conversationOrder []string
	waitingWorkers    []chan *Message
	abandoned         map[chan *Message]struct{}
	wg                sync.WaitGroup
	currentIndex      int
	queued            int
	mu                sync.Mutex
	shutdown          bool
}

// NewManager creates a new queue manager bound to ctx.
func NewManager(ctx context.Context) *Manager {
	ctx, cancel := context.WithCancel(ctx)

	return &Manager{
		ctx:        ctx,
		cancel:     cancel,
		logger:     slog.Default().With(slog.String("component", "queue")),
		queues:     make(map[string]*ConversationQueue),
		abandoned:  make(map[chan *Message]struct{}),
		incomingCh: make(chan *Message, incomingBuffer),
		requestCh:  make(chan chan *Message, requestBuffer),
		started:    make(chan struct{}),
	}
}

// Start runs the scheduling loop until the manager is shut down.
// It should be called in a goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	defer m.wg.Done()
	defer m.cleanup()

	close(m.started)

	for {
		select {
		case <-m.ctx.Done():
			return

		case msg := <-m.incomingCh:
			m.mu.Lock()
			if err := m.enqueueLocked(msg); err != nil {
				msg.Fail(err)
				m.logger.WarnContext(m.ctx, "failed to enqueue message",
					slog.String("message_id", msg.ID),
					slog.Any("error", err))
			}
			m.dispatchLocked()
			m.mu.Unlock()

		case workerCh := <-m.requestCh:
			m.mu.Lock()
			if _, gone := m.abandoned[workerCh]; gone {
				delete(m.abandoned, workerCh)
			} else {
				m.waitingWorkers = append(m.waitingWorkers, workerCh)
				m.dispatchLocked()
			}
			m.mu.Unlock()
		}
	}
}

// Submit hands a message to the scheduler.
func (m *Manager) Submit(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	m.mu.Lock()
	stopped := m.shutdown
	m.mu.Unlock()
	if stopped {
		return ErrQueueStopped
	}

	select {
	case m.incomingCh <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit message %s: %w", msg.ID, ctx.Err())
	case <-m.ctx.Done():
		return ErrQueueStopped
	}
}

// RequestMessage blocks until a message is available for a worker.
// The returned message is in StateProcessing and must be passed to
// CompleteMessage once handled.
func (m *Manager) RequestMessage(ctx context.Context) (*Message, error) {
	respCh := make(chan *Message, 1)

	select {
	case m.requestCh <- respCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, ErrQueueStopped
	}

	select {
	case msg := <-respCh:
		if msg == nil {
			return nil, ErrQueueStopped
		}
		return msg, nil
	case <-ctx.Done():
		m.abandon(respCh)
		return nil, ctx.Err()
	case <-m.ctx.Done():
		// A message dispatched just before the loop stopped is still owed to
		// this worker.
		select {
		case msg := <-respCh:
			if msg != nil {
				return msg, nil
			}
		default:
		}
		return nil, ErrQueueStopped
	}
}

// CompleteMessage releases the conversation so its next message can be scheduled.
func (m *Manager) CompleteMessage(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	queue, exists := m.queues[msg.ConversationID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, msg.ConversationID)
	}

	queue.Complete()
	if queue.IsEmpty() {
		m.removeLocked(msg.ConversationID)
	}
	m.dispatchLocked()

	return nil
}

// Shutdown rejects new submissions, keeps dispatching until every queued
// message has been handed to a worker, then stops the scheduling loop.
// Messages still queued when timeout expires are dropped and counted in the
// returned error.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	select {
	case <-m.started:
	case <-time.After(100 * time.Millisecond):
		// Start was never called.
		m.cancel()
		return nil
	}

	deadline := time.Now().Add(timeout)
	dropped := m.drain(deadline)
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Until(deadline) + loopExitGrace):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}

	if dropped > 0 {
		m.logger.Warn("queued messages dropped at shutdown",
			slog.Int("dropped", dropped),
			slog.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout after %v: %d queued messages dropped", timeout, dropped)
	}
	return nil
}

// drain waits until no message is waiting for a worker or deadline passes,
// and returns how many are still waiting.
func (m *Manager) drain(deadline time.Time) int {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		pending := m.queued + len(m.incomingCh)
		m.mu.Unlock()

		if pending == 0 || !time.Now().Before(deadline) {
			return pending
		}

		select {
		case <-ticker.C:
		case <-m.ctx.Done():
			return pending
		}
	}
}

// Stats returns current queue statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Conversations:  len(m.queues),
		WaitingWorkers: len(m.waitingWorkers),
	}
	for _, queue := range m.queues {
		stats.Queued += queue.Size()
		if queue.IsProcessing() {
			stats.Processing++
		}
	}
	return stats
}

// abandon withdraws a request whose caller gave up. A message already
// handed to it goes back to the head of its conversation.
func (m *Manager) abandon(respCh chan *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, ch := range m.waitingWorkers {
		if ch == respCh {
			m.waitingWorkers = append(m.waitingWorkers[:i], m.waitingWorkers[i+1:]...)
			return
		}
	}

	select {
	case msg := <-respCh:
		if msg == nil {
			return
		}
		if queue, exists := m.queues[msg.ConversationID]; exists {
			queue.Requeue()
			_ = msg.Transition(StateQueued)
			m.setQueuedLocked(m.queued + 1)
		}
		m.dispatchLocked()
	default:
		// Still sitting in requestCh; drop it when the loop gets there.
		m.abandoned[respCh] = struct{}{}
	}
}

func (m *Manager) enqueueLocked(msg *Message) error {
	queue, exists := m.queues[msg.ConversationID]
	if !exists {
		queue = NewConversationQueue(msg.ConversationID)
		m.queues[msg.ConversationID] = queue
		m.conversationOrder = append(m.conversationOrder, msg.ConversationID)
	}

	if err := queue.Enqueue(msg); err != nil {
		return err
	}
	m.setQueuedLocked(m.queued + 1)
	return nil
}

// dispatchLocked hands messages to waiting workers while both are available.
func (m *Manager) dispatchLocked() {
	for len(m.waitingWorkers) > 0 {
		msg := m.nextLocked()
		if msg == nil {
			return
		}

		workerCh := m.waitingWorkers[0]
		m.waitingWorkers = m.waitingWorkers[1:]

		if err := msg.Transition(StateProcessing); err != nil {
			m.logger.WarnContext(m.ctx, "unexpected message state",
				slog.String("message_id", msg.ID),
				slog.Any("error", err))
		}
		// Buffered with capacity one and used for a single request.
		workerCh <- msg
	}
}

// nextLocked picks the next message in round-robin order across conversations.
func (m *Manager) nextLocked() *Message {
	for attempts := len(m.conversationOrder); attempts > 0 && len(m.conversationOrder) > 0; attempts-- {
		if m.currentIndex >= len(m.conversationOrder) {
			m.currentIndex = 0
		}

		convID := m.conversationOrder[m.currentIndex]
		queue, exists := m.queues[convID]
		if !exists {
			m.removeLocked(convID)
			continue
		}

		m.currentIndex++

		if queue.IsProcessing() {
			continue
		}

		if msg := queue.Dequeue(); msg != nil {
			m.setQueuedLocked(m.queued - 1)
			return msg
		}

		if queue.IsEmpty() {
			m.removeLocked(convID)
		}
	}

	return nil
}

func (m *Manager) removeLocked(convID string) {
	delete(m.queues, convID)
	for i, id := range m.conversationOrder {
		if id == convID {
			m.conversationOrder = append(m.conversationOrder[:i], m.conversationOrder[i+1:]...)
			if m.currentIndex > i {
				m.currentIndex--
			}
			return
		}
	}
}

func (m *Manager) setQueuedLocked(n int) {
	m.queued = n
	metrics.QueueDepth.Set(float64(n))
}

// cleanup releases workers blocked on the manager.
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, workerCh := range m.waitingWorkers {
		select {
		case workerCh <- nil:
		default:
		}
	}
	m.waitingWorkers = nil
}
