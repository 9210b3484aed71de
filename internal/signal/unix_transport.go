package signal

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

const (
	notificationBuffer = 100
	maxLineSize        = 10 * 1024 * 1024
)

// UnixSocketTransport implements Transport over signal-cli's UNIX socket,
// one JSON document per line.
type UnixSocketTransport struct {
	conn          net.Conn
	logger        *slog.Logger
	pending       map[string]chan *rpcResponse
	notifications chan *Notification
	done          chan struct{}
	socketPath    string
	requestID     atomic.Uint64
	pendingMu     sync.Mutex
	writeMu       sync.Mutex
	closeOnce     sync.Once
}

// NewUnixSocketTransport connects to the signal-cli socket at socketPath.
func NewUnixSocketTransport(ctx context.Context, socketPath string) (*UnixSocketTransport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signal-cli socket: %w", err)
	}

	return newTransport(conn, socketPath), nil
}

func newTransport(conn net.Conn, socketPath string) *UnixSocketTransport {
	t := &UnixSocketTransport{
		socketPath:    socketPath,
		conn:          conn,
		logger:        slog.Default().With(slog.String("component", "signal-transport")),
		pending:       make(map[string]chan *rpcResponse),
		notifications: make(chan *Notification, notificationBuffer),
		done:          make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// Call implements Transport.
func (t *UnixSocketTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := "req-" + strconv.FormatUint(t.requestID.Add(1), 10)

	data, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *rpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	t.writeMu.Lock()
	_, err = t.conn.Write(append(data, '\n'))
	t.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for response: %w", ctx.Err())
	case <-t.done:
		return nil, ErrTransportClosed
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// readLoop routes responses to their callers and everything else to subscribers.
func (t *UnixSocketTransport) readLoop() {
	defer close(t.done)
	defer close(t.notifications)

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != "" {
			t.pendingMu.Lock()
			if ch, ok := t.pending[resp.ID]; ok {
				ch <- &resp
			}
			t.pendingMu.Unlock()
			continue
		}

		var notif Notification
		if err := json.Unmarshal(line, &notif); err != nil || notif.Method == "" {
			t.logger.Debug("ignoring unrecognised line", slog.Int("bytes", len(line)))
			continue
		}
		t.notifications <- &notif
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("signal-cli connection lost", slog.Any("error", err))
	}
}

// Subscribe implements Transport.
func (t *UnixSocketTransport) Subscribe(_ context.Context) (<-chan *Notification, error) {
	return t.notifications, nil
}

// Close implements Transport.
func (t *UnixSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
		// Unblock readLoop if it is stuck handing over a notification.
		go func() {
			for range t.notifications {
			}
		}()
		<-t.done
	})
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
