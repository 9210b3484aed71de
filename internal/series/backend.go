package series

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// Backend persists raw durable records addressed by user identifier.
// Load returns ErrNotFound when no record exists. Save must replace the
// record atomically: a concurrent Load sees either the old or the new bytes.
type Backend interface {
	Load(ctx context.Context, userID string) ([]byte, error)
	Save(ctx context.Context, userID string, data []byte) error
}

// recordName maps a user identifier to a file or object name. Escaping is
// reversible, so distinct users never share a record, and separators are
// encoded so a user id can never escape the store root.
func recordName(userID string) string {
	return url.PathEscape(userID) + ".csv"
}

// FileBackend keeps one CSV file per user in a directory.
type FileBackend struct {
	directory string
}

// NewFileBackend creates a file backend rooted at directory.
func NewFileBackend(directory string) *FileBackend {
	return &FileBackend{directory: directory}
}

// Load reads the user's record file.
func (f *FileBackend) Load(_ context.Context, userID string) ([]byte, error) {
	filename := filepath.Join(f.directory, recordName(userID))

	data, err := os.ReadFile(filename) // #nosec G304 - filename is constructed from configured directory
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	return data, nil
}

// Save writes the user's record file atomically.
func (f *FileBackend) Save(_ context.Context, userID string, data []byte) error {
	if err := os.MkdirAll(f.directory, 0750); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	filename := filepath.Join(f.directory, recordName(userID))
	tempFile := filename + ".tmp"

	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to replace record file: %w", err)
	}

	return nil
}
