package signal

import (
	"context"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
)

const envelopeBuffer = 10

// Client is a typed view of the signal-cli JSON-RPC API.
type Client interface {
	// Send sends a message to one or more recipients.
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)

	// Subscribe starts receiving incoming envelopes.
	Subscribe(ctx context.Context) (<-chan *Envelope, error)

	// Close closes the client connection.
	Close() error
}

// SendRequest represents a request to send a message.
type SendRequest struct {
	Message     string   `json:"message"`
	Recipients  []string `json:"recipient,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// SendResponse represents the response from a send operation.
type SendResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// Envelope represents an incoming message envelope.
type Envelope struct {
	DataMessage  *DataMessage `json:"dataMessage,omitempty"`
	SyncMessage  *SyncMessage `json:"syncMessage,omitempty"`
	Source       string       `json:"source"`
	SourceNumber string       `json:"sourceNumber"`
	SourceUUID   string       `json:"sourceUuid"`
	SourceName   string       `json:"sourceName"`
	SourceDevice int          `json:"sourceDevice"`
	Timestamp    int64        `json:"timestamp"`
}

// DataMessage represents a standard message.
type DataMessage struct {
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   int64        `json:"timestamp"`
}

// Attachment describes a file attached to an incoming message.
type Attachment struct {
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// SyncMessage represents a message sent from another of our own devices.
type SyncMessage struct {
	SentMessage *DataMessage `json:"sentMessage,omitempty"`
}

// GroupInfo identifies the group a message was sent to.
type GroupInfo struct {
	GroupID string `json:"groupId"`
	Type    string `json:"type"`
}

// client implements Client over a Transport.
type client struct {
	transport Transport
	logger    *slog.Logger
	account   string
}

// ClientOption configures the client.
type ClientOption func(*client)

// WithAccount sets the account for multi-account mode.
func WithAccount(account string) ClientOption {
	return func(c *client) {
		c.account = account
	}
}

// NewClient creates a new Signal client.
func NewClient(transport Transport, opts ...ClientOption) Client {
	c := &client{
		transport: transport,
		logger:    slog.Default().With(slog.String("component", "signal-client")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send implements Client.
func (c *client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if len(req.Recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient must be specified")
	}

	params := map[string]any{
		"recipient": req.Recipients,
		"message":   req.Message,
	}
	if c.account != "" {
		params["account"] = c.account
	}
	if len(req.Attachments) > 0 {
		params["attachments"] = req.Attachments
	}

	result, err := c.transport.Call(ctx, "send", params)
	if err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}

	var resp SendResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Timestamp == 0 {
		return nil, fmt.Errorf("invalid response: missing timestamp")
	}

	return &resp, nil
}

// Subscribe implements Client.
func (c *client) Subscribe(ctx context.Context) (<-chan *Envelope, error) {
	notifications, err := c.transport.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	envelopes := make(chan *Envelope, envelopeBuffer)
	go c.processNotifications(ctx, notifications, envelopes)

	return envelopes, nil
}

func (c *client) processNotifications(ctx context.Context, notifications <-chan *Notification, envelopes chan<- *Envelope) {
	defer close(envelopes)

	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			if notif.Method != "receive" {
				continue
			}

			envelope := c.parseEnvelope(ctx, notif)
			if envelope == nil {
				continue
			}

			select {
			case envelopes <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *client) parseEnvelope(ctx context.Context, notif *Notification) *Envelope {
	var params struct {
		Envelope *Envelope `json:"envelope"`
	}

	if err := json.Unmarshal(notif.Params, &params); err != nil {
		c.logger.WarnContext(ctx, "malformed receive notification", slog.Any("error", err))
		return nil
	}

	return params.Envelope
}

// Close implements Client.
func (c *client) Close() error {
	return c.transport.Close()
}
