// Package signal talks to signal-cli over its JSON-RPC interface and adapts it
// to the bot's inbound and outbound message flow.
package signal

import (
	"context"
	"errors"
	"strconv"

	json "github.com/goccy/go-json"
)

// ErrTransportClosed indicates the connection to signal-cli is gone.
var ErrTransportClosed = errors.New("signal transport closed")

// Transport represents the underlying connection to signal-cli.
type Transport interface {
	// Call makes a JSON-RPC call and returns the raw result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Subscribe returns the stream of server notifications. The channel is
	// closed when the transport shuts down.
	Subscribe(ctx context.Context) (<-chan *Notification, error)

	// Close closes the transport.
	Close() error
}

// Notification represents a JSON-RPC notification.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCError represents a JSON-RPC error returned by signal-cli.
type RPCError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return "RPC error " + strconv.Itoa(e.Code) + ": " + e.Message
}

type rpcRequest struct {
	Params  any    `json:"params,omitempty"`
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

type rpcResponse struct {
	Error   *RPCError       `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
}
