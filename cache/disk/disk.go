// Package disk persists raw image bytes on the local filesystem, one file per
// request digest, so that decoded images survive process restarts.
package disk

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/imgcache/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultFilePerm       = 0o600
)

// ErrInvalidKey is returned for keys that are not hex digests.
var ErrInvalidKey = errors.New("disk: invalid key")

// Store implements cache.BlobStore on a directory tree:
// <dir>/<first shardPrefixLen hex chars>/<hex key>.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64

	bytes   atomic.Int64
	pruneMu sync.Mutex
}

var (
	_ cache.BlobStore   = (*Store)(nil)
	_ cache.BlobDeleter = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for
// subdirectories. 0 stores every blob directly under dir.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) { s.shardPrefixLen = n }
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) { s.dirPerm = mode }
}

// WithMaxBytes bounds the total size on disk. Writes that push the store
// over the limit prune least recently used blobs. <= 0 means unlimited.
func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("disk: create %s: %w", dir, err)
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("disk: scan %s: %w", dir, err)
	}
	s.bytes.Store(size)
	return s, nil
}

// Read returns the blob stored under k. A hit refreshes the file's
// modification time so pruning drops cold blobs first.
func (s *Store) Read(ctx context.Context, k string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path, err := s.path(k)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated hex key
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("disk: read %s: %w", k, err)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return data, true, nil
}

// Write stores data under k with a temp-file-and-rename so readers never
// see partial blobs. Existing blobs are left untouched: equal keys always
// carry equal content.
func (s *Store) Write(ctx context.Context, k string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(k)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return fmt.Errorf("disk: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return fmt.Errorf("disk: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: write: %w", err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("disk: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil // lost a race with a concurrent writer of the same key
		}
		return fmt.Errorf("disk: rename: %w", err)
	}

	if total := s.bytes.Add(int64(len(data))); s.maxBytes > 0 && total > s.maxBytes {
		if _, err := s.Prune(s.maxBytes); err != nil {
			return fmt.Errorf("disk: prune: %w", err)
		}
	}
	return nil
}

// Delete removes the blob stored under k and reports whether it existed.
func (s *Store) Delete(ctx context.Context, k string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.path(k)
	if err != nil {
		return false, err
	}

	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("disk: stat %s: %w", k, err)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("disk: remove %s: %w", k, err)
	}
	s.bytes.Add(-fi.Size())
	return true, nil
}

// Prune deletes the least recently used blobs until the store holds at most
// target bytes and returns the number of bytes freed.
func (s *Store) Prune(target int64) (int64, error) {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	freed, remaining, err := pruneDir(s.dir, target)
	if err != nil {
		return freed, err
	}
	s.bytes.Store(remaining)
	return freed, nil
}

// SizeBytes is the tracked total size of stored blobs.
func (s *Store) SizeBytes() int64 { return s.bytes.Load() }

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(k string) (string, error) {
	if k == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if _, err := hex.DecodeString(k); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, k)
	}
	if s.shardPrefixLen == 0 {
		return filepath.Join(s.dir, k), nil
	}
	prefix := min(s.shardPrefixLen, len(k))
	return filepath.Join(s.dir, k[:prefix], k), nil
}
