package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	responses     map[string]mockResponse
	calls         map[string][]any
	notifications chan *Notification
	mu            sync.Mutex
	closed        bool
}

type mockResponse struct {
	err    error
	result json.RawMessage
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses:     make(map[string]mockResponse),
		calls:         make(map[string][]any),
		notifications: make(chan *Notification, 100),
	}
}

// SetResponse sets the response for a method.
func (m *MockTransport) SetResponse(method string, result json.RawMessage, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = mockResponse{result: result, err: err}
}

// Calls returns the params of every recorded call to method.
func (m *MockTransport) Calls(method string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.calls[method]...)
}

// Call implements Transport.
func (m *MockTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls[method] = append(m.calls[method], params)
	response, ok := m.responses[method]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no mock response configured for method: %s", method)
	}
	return response.result, response.err
}

// Subscribe implements Transport.
func (m *MockTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrTransportClosed
	}
	return m.notifications, nil
}

// SimulateNotification delivers a notification to subscribers.
func (m *MockTransport) SimulateNotification(notif *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.notifications <- notif
	}
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.notifications)
	}
	return nil
}

// SentMessage records a message passed to MockClient.Send. Attachment
// contents are captured at send time because spooled files are removed
// right after.
type SentMessage struct {
	Files      map[string][]byte
	Message    string
	Recipients []string
}

// MockClient implements Client for testing.
type MockClient struct {
	incoming  chan *Envelope
	SendError error
	sent      []SentMessage
	mu        sync.Mutex
	closed    bool
}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{incoming: make(chan *Envelope, 100)}
}

// Send implements Client.
func (m *MockClient) Send(_ context.Context, req *SendRequest) (*SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendError != nil {
		return nil, m.SendError
	}

	sent := SentMessage{
		Recipients: append([]string(nil), req.Recipients...),
		Message:    req.Message,
	}
	if len(req.Attachments) > 0 {
		sent.Files = make(map[string][]byte, len(req.Attachments))
		for _, path := range req.Attachments {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("attachment %s not readable: %w", path, err)
			}
			sent.Files[filepath.Base(path)] = data
		}
	}
	m.sent = append(m.sent, sent)

	return &SendResponse{Timestamp: time.Now().UnixMilli()}, nil
}

// Sent returns the messages sent so far.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Subscribe implements Client.
func (m *MockClient) Subscribe(_ context.Context) (<-chan *Envelope, error) {
	return m.incoming, nil
}

// SimulateIncomingMessage queues an envelope for subscribers.
func (m *MockClient) SimulateIncomingMessage(env *Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.incoming <- env
	}
}

// Close implements Client.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.incoming)
	}
	return nil
}
