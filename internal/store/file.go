package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polyagent/arb-engine/internal/model"
)

// FileStore implements PortfolioStore as a single JSON document on disk.
// Writes go to a temp file in the same directory which is then renamed over
// the target, so readers only ever see a complete document.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (*model.Portfolio, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read portfolio %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}

	var p model.Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", s.path, err)
	}
	if p.Positions == nil {
		p.Positions = []model.Position{}
	}
	return &p, nil
}

func (s *FileStore) Save(_ context.Context, p *model.Portfolio) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create portfolio dir: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Removing after a successful rename is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write portfolio: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync portfolio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close portfolio: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace portfolio: %w", err)
	}

	slog.Debug("portfolio saved", "path", s.path, "positions", len(p.Positions))
	return nil
}
