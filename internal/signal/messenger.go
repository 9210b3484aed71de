package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IncomingMessage is a text received from a user.
type IncomingMessage struct {
	Timestamp time.Time
	From      string
	Text      string
}

// File is an attachment to deliver with an outgoing message.
type File struct {
	Name string
	Data []byte
}

// OutgoingMessage is a text plus optional files for one recipient.
type OutgoingMessage struct {
	Text  string
	Files []File
}

// Messenger sends and receives plain messages, hiding the Signal envelope format.
type Messenger interface {
	// Send delivers a message to the specified recipient.
	Send(ctx context.Context, recipient string, msg OutgoingMessage) error

	// Subscribe returns a channel of incoming messages. The channel is closed
	// when ctx is cancelled or the underlying connection ends.
	Subscribe(ctx context.Context) (<-chan IncomingMessage, error)
}

// messenger implements Messenger using a Signal Client.
type messenger struct {
	client        Client
	selfPhone     string
	attachmentDir string
}

// MessengerOption configures the messenger.
type MessengerOption func(*messenger)

// WithAttachmentDir sets where outgoing files are spooled for signal-cli to read.
func WithAttachmentDir(dir string) MessengerOption {
	return func(m *messenger) {
		if dir != "" {
			m.attachmentDir = dir
		}
	}
}

// NewMessenger creates a new Signal messenger. Messages from selfPhone are ignored.
func NewMessenger(client Client, selfPhone string, opts ...MessengerOption) Messenger {
	m := &messenger{
		client:        client,
		selfPhone:     selfPhone,
		attachmentDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send implements Messenger. Text may be empty when files are attached.
func (m *messenger) Send(ctx context.Context, recipient string, msg OutgoingMessage) error {
	if recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if msg.Text == "" && len(msg.Files) == 0 {
		return fmt.Errorf("message cannot be empty")
	}

	req := &SendRequest{
		Message:    msg.Text,
		Recipients: []string{recipient},
	}

	if len(msg.Files) > 0 {
		paths, cleanup, err := m.spool(msg.Files)
		if err != nil {
			return err
		}
		defer cleanup()
		req.Attachments = paths
	}

	if _, err := m.client.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// spool writes files to a private directory signal-cli can read them from.
// The returned cleanup removes the directory.
func (m *messenger) spool(files []File) ([]string, func(), error) {
	if err := os.MkdirAll(m.attachmentDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	dir, err := os.MkdirTemp(m.attachmentDir, "outgoing-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create attachment spool: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, filepath.Base(f.Name))
		if err := os.WriteFile(path, f.Data, 0o600); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to write attachment %s: %w", f.Name, err)
		}
		paths = append(paths, path)
	}

	return paths, cleanup, nil
}

// Subscribe implements Messenger.
func (m *messenger) Subscribe(ctx context.Context) (<-chan IncomingMessage, error) {
	envelopes, err := m.client.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan IncomingMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-envelopes:
				if !ok {
					return
				}
				msg, keep := m.convertEnvelope(env)
				if !keep {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// convertEnvelope keeps direct text messages from other users.
func (m *messenger) convertEnvelope(env *Envelope) (IncomingMessage, bool) {
	if env == nil || env.DataMessage == nil || env.DataMessage.Message == "" {
		return IncomingMessage{}, false
	}
	if env.DataMessage.GroupInfo != nil {
		return IncomingMessage{}, false
	}

	from := senderID(env)
	if from == "" || env.SourceNumber == m.selfPhone || env.Source == m.selfPhone {
		return IncomingMessage{}, false
	}

	return IncomingMessage{
		Timestamp: time.UnixMilli(env.Timestamp),
		From:      from,
		Text:      env.DataMessage.Message,
	}, true
}

// senderID picks a stable identifier for the sender. It keys the user's
// records, so the account UUID wins over the phone number, which can be
// hidden or change. Display names are never used.
func senderID(env *Envelope) string {
	switch {
	case env.SourceUUID != "":
		return env.SourceUUID
	case env.SourceNumber != "":
		return env.SourceNumber
	default:
		return env.Source
	}
}
