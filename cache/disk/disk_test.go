package disk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IvanBrykalov/imgcache/key"
)

func digestOf(t *testing.T, raw string) string {
	t.Helper()
	r, err := key.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", raw, err)
	}
	return string(r.Key())
}

func TestStoreWriteRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	k := digestOf(t, "https://example.com/a.png")
	content := []byte("\x89PNG fake")

	if err := s.Write(ctx, k, content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, ok, err := s.Read(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Read() ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Read() = %q, want %q", got, content)
	}

	path := filepath.Join(dir, k[:defaultShardPrefixLen], k)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected blob at %s: %v", path, err)
	}
	if s.SizeBytes() != int64(len(content)) {
		t.Fatalf("SizeBytes() = %d, want %d", s.SizeBytes(), len(content))
	}
}

func TestStoreMissAndInvalidKey(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	_, ok, err := s.Read(ctx, digestOf(t, "https://example.com/none.png"))
	if err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}
	if _, _, err := s.Read(ctx, "../etc/passwd"); err == nil {
		t.Fatal("non-hex key must be rejected")
	}
	if err := s.Write(ctx, "", []byte("x")); err == nil {
		t.Fatal("empty key must be rejected")
	}
}

func TestStoreNoSharding(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, WithShardPrefixLen(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	k := digestOf(t, "https://example.com/flat.png")
	if err := s.Write(context.Background(), k, []byte("x")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, k)); err != nil {
		t.Fatalf("expected flat layout: %v", err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	k := digestOf(t, "https://example.com/persist.png")
	first, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.Write(context.Background(), k, []byte("persisted")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	second, err := New(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if second.SizeBytes() != int64(len("persisted")) {
		t.Fatalf("reopened SizeBytes() = %d", second.SizeBytes())
	}
	got, ok, err := second.Read(context.Background(), k)
	if err != nil || !ok || string(got) != "persisted" {
		t.Fatalf("reopened Read() = %q ok=%v err=%v", got, ok, err)
	}
}

func TestStoreMaxBytesPrunesOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, WithMaxBytes(10))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	old := digestOf(t, "https://example.com/old.png")
	fresh := digestOf(t, "https://example.com/new.png")

	if err := s.Write(ctx, old, []byte("123456")); err != nil {
		t.Fatalf("Write(old) error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, old[:2], old), past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	if err := s.Write(ctx, fresh, []byte("abcdef")); err != nil {
		t.Fatalf("Write(new) error = %v", err)
	}

	if _, ok, _ := s.Read(ctx, old); ok {
		t.Fatal("oldest blob must be pruned")
	}
	if _, ok, _ := s.Read(ctx, fresh); !ok {
		t.Fatal("newest blob must survive")
	}
	if s.SizeBytes() != 6 {
		t.Fatalf("SizeBytes() = %d, want 6", s.SizeBytes())
	}
}

func TestStoreConcurrentWritersSameKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	k := digestOf(t, "https://example.com/race.png")
	content := []byte(strings.Repeat("p", 4096))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Write(context.Background(), k, content); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, ok, err := s.Read(context.Background(), k)
	if err != nil || !ok || !bytes.Equal(got, content) {
		t.Fatalf("Read() after concurrent writes ok=%v err=%v len=%d", ok, err, len(got))
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := digestOf(t, "https://example.com/c.png")
	if err := s.Write(ctx, k, []byte("x")); err == nil {
		t.Fatal("Write() with cancelled context must fail")
	}
	if _, _, err := s.Read(ctx, k); err == nil {
		t.Fatal("Read() with cancelled context must fail")
	}
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	k := digestOf(t, "https://example.com/delete.png")
	if err := s.Write(ctx, k, []byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	deleted, err := s.Delete(ctx, k)
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v, want true, nil", deleted, err)
	}
	if _, ok, _ := s.Read(ctx, k); ok {
		t.Fatalf("Read() after Delete found the blob")
	}
	if s.SizeBytes() != 0 {
		t.Fatalf("SizeBytes() = %d, want 0", s.SizeBytes())
	}

	deleted, err = s.Delete(ctx, k)
	if err != nil || deleted {
		t.Fatalf("second Delete() = %v, %v, want false, nil", deleted, err)
	}
	if _, err := s.Delete(ctx, "not-hex"); err == nil {
		t.Fatalf("Delete() of an invalid key succeeded")
	}
}
