package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/colbench/internal/fs"
)

const tmpSuffix = ".tmp"

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem sets the file system used by the store.
func WithFileSystem(fsys fs.FileSystem) LocalOption {
	return func(s *LocalStore) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// LocalStore implements Store over one or more local directories.
// New blobs are placed round-robin across the directories.
type LocalStore struct {
	dirs []string
	fs   fs.FileSystem
	next atomic.Uint64

	mu       sync.RWMutex
	location map[string]string // blob name -> directory
}

// NewLocalStore creates a new LocalStore rooted at the given directories.
// Directories are created on first write.
func NewLocalStore(dirs []string, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		dirs:     append([]string(nil), dirs...),
		fs:       fs.Default,
		location: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dirs returns the directories of the store.
func (s *LocalStore) Dirs() []string {
	return append([]string(nil), s.dirs...)
}

func (s *LocalStore) pick() (string, error) {
	if len(s.dirs) == 0 {
		return "", errors.New("blobstore: local store has no directories")
	}
	i := s.next.Add(1) - 1
	return s.dirs[i%uint64(len(s.dirs))], nil
}

func (s *LocalStore) find(name string) (string, error) {
	s.mu.RLock()
	dir, ok := s.location[name]
	s.mu.RUnlock()
	if ok {
		return filepath.Join(dir, name), nil
	}

	// Blobs written by an earlier process are found by probing.
	for _, dir := range s.dirs {
		path := filepath.Join(dir, name)
		if _, err := s.fs.Stat(path); err == nil {
			s.mu.Lock()
			s.location[name] = dir
			s.mu.Unlock()
			return path, nil
		}
	}
	return "", fmt.Errorf("blob %q: %w", name, ErrNotFound)
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	path, err := s.find(name)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", name, ErrNotFound)
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &localBlob{f: f, size: info.Size()}, nil
}

// Create creates a new blob. Data is written to a temporary file which is
// renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	dir, err := s.pick()
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	final := filepath.Join(dir, name)
	tmp := final + tmpSuffix

	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &localWritableBlob{
		store: s,
		f:     f,
		name:  name,
		dir:   dir,
		tmp:   tmp,
		final: final,
	}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = Abort(w)
		return err
	}
	return w.Close()
}

// Delete removes a blob.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	path, err := s.find(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	delete(s.location, name)
	s.mu.Unlock()

	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns all blobs matching the prefix across all directories.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	for _, dir := range s.dirs {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() || strings.HasSuffix(n, tmpSuffix) || !strings.HasPrefix(n, prefix) {
				continue
			}
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	f    fs.File
	size int64
}

func (b *localBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= b.size {
		return 0, io.EOF
	}
	return b.f.ReadAt(p, off)
}

func (b *localBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if off < 0 || off > b.size {
		return nil, io.EOF
	}
	if off+length > b.size {
		length = b.size - off
	}
	return io.NopCloser(io.NewSectionReader(b.f, off, length)), nil
}

func (b *localBlob) Close() error {
	return b.f.Close()
}

func (b *localBlob) Size() int64 {
	return b.size
}

type localWritableBlob struct {
	store *LocalStore
	f     fs.File
	name  string
	dir   string
	tmp   string
	final string
	done  bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error {
	return w.f.Sync()
}

func (w *localWritableBlob) Close() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true

	if err := w.f.Close(); err != nil {
		_ = w.store.fs.Remove(w.tmp)
		return err
	}
	if err := w.store.fs.Rename(w.tmp, w.final); err != nil {
		_ = w.store.fs.Remove(w.tmp)
		return err
	}

	w.store.mu.Lock()
	w.store.location[w.name] = w.dir
	w.store.mu.Unlock()
	return nil
}

// Abort discards the partial blob.
func (w *localWritableBlob) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return w.store.fs.Remove(w.tmp)
}
