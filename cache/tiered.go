package cache

import (
	"context"
	"log/slog"

	"github.com/IvanBrykalov/imgcache/key"
)

// BlobMetrics receives blob-tier signals. op is "read", "write" or "delete".
type BlobMetrics interface {
	BlobHit()
	BlobMiss()
	BlobError(op string)
}

type noopBlobMetrics struct{}

func (noopBlobMetrics) BlobHit()         {}
func (noopBlobMetrics) BlobMiss()        {}
func (noopBlobMetrics) BlobError(string) {}

// TieredOptions configures NewTiered. Zero values are usable.
type TieredOptions struct {
	Logger  *slog.Logger
	Metrics BlobMetrics
}

// Tiered fronts an optional BlobStore with a memory cache.
// The memory tier is authoritative for the process; the blob tier survives
// restarts. Blob failures are logged and treated as misses.
type Tiered[V any] struct {
	mem     Cache[key.Key, V]
	blob    BlobStore
	decode  func(key.Key, []byte) (V, error)
	log     *slog.Logger
	metrics BlobMetrics
}

// NewTiered combines mem with blob. blob may be nil, in which case decode is
// never called and Tiered is a thin wrapper around mem.
func NewTiered[V any](mem Cache[key.Key, V], blob BlobStore, decode func(key.Key, []byte) (V, error), opt TieredOptions) *Tiered[V] {
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	if opt.Metrics == nil {
		opt.Metrics = noopBlobMetrics{}
	}
	return &Tiered[V]{mem: mem, blob: blob, decode: decode, log: opt.Logger, metrics: opt.Metrics}
}

// Memory returns the memory tier.
func (t *Tiered[V]) Memory() Cache[key.Key, V] { return t.mem }

// Get looks in memory, then reads through the blob tier. A blob hit is
// decoded and promoted into memory before it is returned.
func (t *Tiered[V]) Get(ctx context.Context, k key.Key) (V, bool) {
	v, fromBlob, ok := t.Lookup(ctx, k)
	if ok && fromBlob {
		t.mem.Set(k, v)
	}
	return v, ok
}

// Lookup is Get without promotion: a blob hit is decoded and returned with
// fromBlob set, and memory is left untouched.
func (t *Tiered[V]) Lookup(ctx context.Context, k key.Key) (v V, fromBlob, ok bool) {
	if v, ok := t.mem.Get(k); ok {
		return v, false, true
	}
	var zero V
	if t.blob == nil {
		return zero, false, false
	}

	data, ok, err := t.blob.Read(ctx, string(k))
	if err != nil {
		t.metrics.BlobError("read")
		t.log.Warn("blob read failed", slog.String("key", string(k)), slog.Any("error", err))
		return zero, false, false
	}
	if !ok {
		t.metrics.BlobMiss()
		return zero, false, false
	}
	v, err = t.decode(k, data)
	if err != nil {
		t.metrics.BlobError("read")
		t.log.Warn("blob decode failed", slog.String("key", string(k)), slog.Any("error", err))
		return zero, false, false
	}
	t.metrics.BlobHit()
	return v, true, true
}

// Put stores v in memory and writes raw through to the blob tier.
// raw may be nil when there is nothing worth persisting.
func (t *Tiered[V]) Put(ctx context.Context, k key.Key, v V, raw []byte) {
	t.mem.Set(k, v)
	if t.blob == nil || len(raw) == 0 {
		return
	}
	if err := t.blob.Write(ctx, string(k), raw); err != nil {
		t.metrics.BlobError("write")
		t.log.Warn("blob write failed", slog.String("key", string(k)), slog.Any("error", err))
	}
}

// Remove drops k from memory. Blob entries are content-addressed and left alone.
func (t *Tiered[V]) Remove(k key.Key) bool { return t.mem.Remove(k) }

// Forget drops k from memory and, when the blob store supports it, from the
// blob tier. It reports whether either tier held k. Blob failures are logged.
func (t *Tiered[V]) Forget(ctx context.Context, k key.Key) bool {
	removed := t.mem.Remove(k)
	d, ok := t.blob.(BlobDeleter)
	if !ok {
		return removed
	}
	deleted, err := d.Delete(ctx, string(k))
	if err != nil {
		t.metrics.BlobError("delete")
		t.log.Warn("blob delete failed", slog.String("key", string(k)), slog.Any("error", err))
	}
	return removed || deleted
}
