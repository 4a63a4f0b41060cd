// Package filestore is a single-file JSON arena implementing
// domain.PositionStore. Every mutation rewrites the whole file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

const fileVersion = 1

// fileFormat is the on-disk layout. Positions are kept in creation order so
// FindBySymbol's "first match" is stable across restarts.
type fileFormat struct {
	Version   int               `json:"version"`
	Positions []domain.Position `json:"positions"`
}

// Store keeps every position in memory keyed by ID and persists the whole
// arena on each mutation. A single mutex serializes writers.
type Store struct {
	path string

	mu        sync.Mutex
	positions map[string]domain.Position
	order     []string
}

// Open loads the arena at path, creating its directory if needed. A missing
// file is an empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	s := &Store{
		path:      path,
		positions: make(map[string]domain.Position),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", path, err)
	}
	for _, p := range f.Positions {
		if _, dup := s.positions[p.ID]; dup {
			return nil, fmt.Errorf("filestore: duplicate position %s in %s", p.ID, path)
		}
		s.positions[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Create inserts pos. An existing ID is rejected, never overwritten.
func (s *Store) Create(_ context.Context, pos domain.Position) error {
	if pos.ID == "" {
		return domain.Invalid("position_id", "empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[pos.ID]; ok {
		return fmt.Errorf("filestore: create %s: %w", pos.ID, domain.ErrAlreadyExists)
	}
	s.positions[pos.ID] = pos.Clone()
	s.order = append(s.order, pos.ID)

	if err := s.save(); err != nil {
		delete(s.positions, pos.ID)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	return nil
}

// Save replaces the stored record for pos.ID.
func (s *Store) Save(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.positions[pos.ID]
	if !ok {
		return fmt.Errorf("filestore: save %s: %w", pos.ID, domain.ErrNotFound)
	}
	s.positions[pos.ID] = pos.Clone()

	if err := s.save(); err != nil {
		s.positions[pos.ID] = prev
		return err
	}
	return nil
}

// GetByID returns a copy of the stored record.
func (s *Store) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("filestore: get %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// FindBySymbol returns the earliest-created record matching symbol and status.
func (s *Store) FindBySymbol(_ context.Context, symbol string, status domain.PositionStatus) (domain.Position, error) {
	symbol = domain.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		p := s.positions[id]
		if p.Symbol == symbol && p.Status == status {
			return p.Clone(), nil
		}
	}
	return domain.Position{}, fmt.Errorf("filestore: %s %s: %w", status, symbol, domain.ErrNotFound)
}

// ListByStatus returns records in creation order. An empty status lists
// everything. Since/Until filter on open time.
func (s *Store) ListByStatus(_ context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	skipped := 0
	for _, id := range s.order {
		p := s.positions[id]
		if status != "" && p.Status != status {
			continue
		}
		if opts.Since != nil && p.OpenTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.OpenTime.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, p.Clone())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// save writes the whole arena to a temp file and renames it over the
// original. Callers hold s.mu.
func (s *Store) save() error {
	f := fileFormat{Version: fileVersion, Positions: make([]domain.Position, 0, len(s.order))}
	for _, id := range s.order {
		f.Positions = append(f.Positions, s.positions[id])
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("filestore: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("filestore: replace %s: %w", s.path, err)
	}
	return nil
}

var _ domain.PositionStore = (*Store)(nil)
