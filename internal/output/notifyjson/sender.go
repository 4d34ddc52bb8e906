package notifyjson

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"killwatch/internal/logger"
	"killwatch/pkg/models"
)

// Sender appends notifications to a JSON lines file. Existing entries are
// kept across restarts.
type Sender struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewSender opens or creates the notification log.
func NewSender(path string) (*Sender, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open notification log: %w", err)
	}

	logger.Infof("Notification file sender initialized: %s", path)
	return &Sender{file: f, encoder: json.NewEncoder(f)}, nil
}

// Send appends one notification.
func (s *Sender) Send(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(n); err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return nil
}

// Close closes the log file.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
