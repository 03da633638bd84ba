package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type dataset struct {
	VideoStatus map[string]Record `json:"videoStatus"`
}

// JSONStore keeps records in memory and mirrors every mutation to a JSON
// snapshot on disk. An empty path disables persistence, which is what the
// tests use.
type JSONStore struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record
	clock   func() time.Time
}

// NewJSONStore opens the store, loading an existing snapshot when one is
// present at path.
func NewJSONStore(path string) (*JSONStore, error) {
	store := &JSONStore{
		path:    path,
		records: make(map[string]Record),
		clock:   time.Now,
	}
	if path == "" {
		return store, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read status snapshot: %w", err)
	}
	var ds dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode status snapshot %s: %w", path, err)
	}
	if ds.VideoStatus != nil {
		store.records = ds.VideoStatus
	}
	return store, nil
}

func (s *JSONStore) Create(ctx context.Context, name string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[name]; exists {
		return Record{}, ErrDuplicate
	}
	now := s.clock().UTC()
	record := Record{Name: name, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	s.records[name] = record
	if err := s.persistLocked(); err != nil {
		delete(s.records, name)
		return Record{}, err
	}
	return record, nil
}

func (s *JSONStore) MarkProcessing(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusProcessing, "")
}

func (s *JSONStore) MarkSuccessful(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusSuccessful, "")
}

func (s *JSONStore) MarkFailed(ctx context.Context, name, message string) (Record, error) {
	return s.transition(ctx, name, StatusFailed, message)
}

func (s *JSONStore) Get(ctx context.Context, name string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *JSONStore) Close(ctx context.Context) error {
	return nil
}

func (s *JSONStore) transition(ctx context.Context, name string, to Status, message string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !CanTransition(record.Status, to) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, to)
	}
	previous := record
	record.Status = to
	record.Message = message
	record.UpdatedAt = s.clock().UTC()
	s.records[name] = record
	if err := s.persistLocked(); err != nil {
		s.records[name] = previous
		return Record{}, err
	}
	return record, nil
}

// persistLocked writes the snapshot through a temp file and rename so a crash
// mid-write never truncates the previous snapshot.
func (s *JSONStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prepare status snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "status-*.tmp")
	if err != nil {
		return fmt.Errorf("create status snapshot: %w", err)
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(dataset{VideoStatus: s.records}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode status snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close status snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace status snapshot: %w", err)
	}
	return nil
}
