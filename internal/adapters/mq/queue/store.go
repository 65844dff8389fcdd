package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the pending item list.
type Store interface {
	Load(ctx context.Context) ([]Item, error)
	Save(ctx context.Context, items []Item) error
}

// MemoryStore keeps items in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items []Item
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load implements Store.
func (m *MemoryStore) Load(context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.items...), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, items []Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items[:0:0], items...)
	return nil
}

// FileStore keeps items in a JSON file, replaced atomically on every save so
// a crash leaves either the old or the new list.
type FileStore struct {
	path string
}

// NewFileStore stores items at path. The directory is created on first save.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Load implements Store. A missing file is an empty queue.
func (f *FileStore) Load(context.Context) ([]Item, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode queue file %s: %w", f.path, err)
	}
	return items, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close queue: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
