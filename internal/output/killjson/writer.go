package killjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"killwatch/internal/logger"
	"killwatch/pkg/models"
)

// Writer archives enriched kills to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL archive writer.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	logger.Infof("Kill JSON archive initialized: %s", path)
	return &Writer{file: f, encoder: json.NewEncoder(f)}, nil
}

// WriteKills writes a batch of enriched kills.
func (w *Writer) WriteKills(kills []*models.ProcessedKill) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, k := range kills {
		if err := w.encoder.Encode(k); err != nil {
			return fmt.Errorf("failed to encode kill: %w", err)
		}
	}
	return nil
}

// Close closes the archive file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
