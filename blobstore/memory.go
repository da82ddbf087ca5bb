package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

// ErrCapacityExceeded is returned when a MemoryStore would grow past its
// capacity.
var ErrCapacityExceeded = errors.New("blobstore: memory store capacity exceeded")

// MemoryStore keeps spills in process memory. Spilled bytes held here are
// not charged to any pipeline budget, so a capacity bounds how much a run
// may park outside it.
type MemoryStore struct {
	capacity int64

	mu    sync.RWMutex
	blobs map[string][]byte
	used  int64
	peak  int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithCapacity bounds the bytes held by the store. Zero means unbounded.
func WithCapacity(n int64) MemoryOption {
	return func(m *MemoryStore) { m.capacity = n }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(optFns ...MemoryOption) *MemoryStore {
	m := &MemoryStore{blobs: make(map[string][]byte)}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Capacity returns the configured capacity, zero when unbounded.
func (m *MemoryStore) Capacity() int64 { return m.capacity }

// Size returns the bytes currently held.
func (m *MemoryStore) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// Peak returns the most bytes ever held at once.
func (m *MemoryStore) Peak() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", name, ErrNotFound)
	}
	// Stored slices are replaced, never mutated.
	return memoryBlob(data), nil
}

// Create buffers writes until Close publishes the blob.
func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWriter{store: m, name: name}, nil
}

func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	return m.store(name, bytes.Clone(data))
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.blobs[name]))
	delete(m.blobs, name)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (m *MemoryStore) store(name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used - int64(len(m.blobs[name])) + int64(len(data))
	if m.capacity > 0 && used > m.capacity {
		return fmt.Errorf("blob %q (%d bytes): %w", name, len(data), ErrCapacityExceeded)
	}
	m.blobs[name] = data
	m.used = used
	m.peak = max(m.peak, used)
	return nil
}

type memoryBlob []byte

func (b memoryBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b memoryBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off > int64(len(b)) {
		return nil, io.EOF
	}
	end := min(off+length, int64(len(b)))
	return io.NopCloser(bytes.NewReader(b[off:end])), nil
}

func (b memoryBlob) Size() int64  { return int64(len(b)) }
func (b memoryBlob) Close() error { return nil }

type memoryWriter struct {
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Sync() error { return nil }

func (w *memoryWriter) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	return w.store.store(w.name, bytes.Clone(w.buf.Bytes()))
}

// Abort drops the buffered data without publishing it.
func (w *memoryWriter) Abort() error {
	w.closed = true
	w.buf.Reset()
	return nil
}
