package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/capisim/capisim/internal/model"
)

// FileSink appends one JSON object per event to a local file.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	now  func() time.Time
}

type fileRecord struct {
	At    time.Time   `json:"at"`
	Event model.Event `json:"event"`
}

// NewFileSink opens path for appending, creating it when missing.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file sink: %w", err)
	}
	return &FileSink{path: path, f: f, now: time.Now}, nil
}

// Name implements Sink.
func (s *FileSink) Name() model.SinkName { return model.SinkFile }

// Send implements Sink.
func (s *FileSink) Send(ctx context.Context, ev model.Event) error {
	line, err := json.Marshal(fileRecord{At: s.now().UTC(), Event: ev})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("file sink %s is closed", s.path)
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
