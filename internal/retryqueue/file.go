package retryqueue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// File is a Ring persisted to disk after every mutation, so queued samples survive restarts.
type File struct {
	ring *Ring
	path string
}

var _ Queue = (*File)(nil)

// OpenFile loads the queue stored at path, creating an empty one if the file does not exist.
func OpenFile(path string, capacity int) (*File, error) {
	f := &File{ring: NewRing(capacity), path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retryqueue: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return f, nil
	}
	var entries []Entry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("retryqueue: decode %s: %w", path, err)
	}
	f.ring.restore(entries)
	return f, nil
}

func (f *File) Enqueue(e Entry) error {
	f.ring.mu.Lock()
	defer f.ring.mu.Unlock()
	f.ring.push(e)
	return f.persistLocked()
}

func (f *File) DrainAll(send func([]Entry) error) error {
	drained, err := f.ring.drain(send)
	if err != nil || !drained {
		return err
	}
	f.ring.mu.Lock()
	defer f.ring.mu.Unlock()
	return f.persistLocked()
}

func (f *File) Size() int { return f.ring.Size() }

func (f *File) Entries() []Entry { return f.ring.Entries() }

func (f *File) persistLocked() error {
	snap := f.ring.snapshot()
	entries := make([]Entry, len(snap))
	for i, s := range snap {
		entries[i] = s.entry
	}
	data, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("retryqueue: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("retryqueue: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("retryqueue: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("retryqueue: rename: %w", err)
	}
	return nil
}
