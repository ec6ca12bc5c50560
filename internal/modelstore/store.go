// Package modelstore persists and publishes the trained model together with its feature snapshot.
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-leads/internal/features"
	"github.com/miradorstack/mirador-leads/internal/forest"
)

// Model pairs a fitted forest with the snapshot that produced its feature matrix.
// A Model is never mutated after it is published.
type Model struct {
	Version   string             `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	Target    string             `json:"target"`
	Snapshot  *features.Snapshot `json:"snapshot"`
	Forest    *forest.Forest     `json:"forest"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Store holds the current model behind an atomic pointer and mirrors it to disk.
type Store struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Model]
	// saveMu keeps the file and the published pointer on the same model.
	saveMu sync.Mutex
}

// New creates a store persisting to path. An empty path keeps models in memory only.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Current returns the published model, or nil before any model is trained or loaded.
func (s *Store) Current() *Model {
	return s.current.Load()
}

// Load reads the persisted model, if any, and publishes it.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no persisted model found", slog.String("path", s.path))
			return nil
		}
		return fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if m.Forest == nil || m.Snapshot == nil {
		return fmt.Errorf("decode model: incomplete model file %s", s.path)
	}
	s.current.Store(&m)
	s.logger.Info("model loaded",
		slog.String("version", m.Version),
		slog.Int("features", len(m.Snapshot.Features())),
		slog.Time("created_at", m.CreatedAt))
	return nil
}

// Save writes the model to disk and then publishes it. Readers observe either the
// previous model or the new one, never a mix.
func (s *Store) Save(m *Model) error {
	if m == nil || m.Forest == nil || m.Snapshot == nil {
		return fmt.Errorf("save model: incomplete model")
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.path != "" {
		if err := writeAtomic(s.path, m); err != nil {
			return err
		}
	}
	s.current.Store(m)
	return nil
}

func writeAtomic(path string, m *Model) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish model: %w", err)
	}
	return nil
}
