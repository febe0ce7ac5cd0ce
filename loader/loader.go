// Package loader returns decoded images for URLs. Concurrent loads of the
// same request share one network fetch, the number of fetches in flight is
// bounded, successful results are cached, and failures degrade to a
// placeholder for the failing caller only.
//
// Load path:
//
//	memory hit ──────────────────────────────────────────────► image
//	status table: completed ─────────────────────────────────► image
//	              pending   ── wait on the shared flight ────► image | error
//	              absent    ── register, then in the flight:
//	                           blob read-through
//	                           limiter slot → fetch → decode
//	                           write-through memory + blob ──► image | error
//
// Failed flights are dropped from the table as they finish, so the next
// Load retries. Completed flights stay until the memory tier evicts the
// image.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/imgcache/cache"
	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/internal/coalesce"
	"github.com/IvanBrykalov/imgcache/internal/limiter"
	"github.com/IvanBrykalov/imgcache/key"
)

var (
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("loader: closed")
	// ErrNoFetcher is returned by New without a Fetcher.
	ErrNoFetcher = errors.New("loader: no fetcher configured")
)

// Loader is safe for concurrent use.
type Loader struct {
	fetcher     fetch.Fetcher
	mem         *cache.Memory[key.Key, *Image]
	store       *cache.Tiered[*Image]
	table       *coalesce.Table[key.Key, *Image]
	limiter     *limiter.Limiter
	placeholder *Image
	blobTimeout time.Duration
	log         *slog.Logger
	metrics     Metrics

	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a Loader from opt.
func New(opt Options) (*Loader, error) {
	if opt.Fetcher == nil {
		return nil, ErrNoFetcher
	}
	opt.setDefaults()

	l := &Loader{
		fetcher:     opt.Fetcher,
		limiter:     limiter.New(opt.MaxConcurrent),
		placeholder: opt.Placeholder,
		blobTimeout: opt.BlobTimeout,
		log:         opt.Logger,
		metrics:     opt.Metrics,
	}
	l.table = coalesce.New(coalesce.Options[key.Key, *Image]{Commit: l.commit})
	l.mem = cache.New(cache.Options[key.Key, *Image]{
		Capacity:   opt.Capacity,
		Shards:     opt.Shards,
		Policy:     opt.Policy,
		DefaultTTL: opt.TTL,
		Cost:       (*Image).Size,
		MaxCost:    opt.MaxBytes,
		OnEvict:    l.evicted,
		Metrics:    opt.CacheMetrics,
		Clock:      opt.Clock,
	})
	l.store = cache.NewTiered[*Image](l.mem, opt.Blob, Decode, cache.TieredOptions{
		Logger:  opt.Logger,
		Metrics: opt.BlobMetrics,
	})
	return l, nil
}

// Fetch loads rawURL and never fails: on any error the placeholder is
// returned to this caller and the cause is logged.
func (l *Loader) Fetch(ctx context.Context, rawURL string) *Image {
	r, err := key.Parse(rawURL)
	if err != nil {
		l.substitute(rawURL, err)
		return l.placeholder
	}
	return l.FetchRequest(ctx, r)
}

// FetchRequest is Fetch for a prepared request.
func (l *Loader) FetchRequest(ctx context.Context, r key.Request) *Image {
	img, _ := l.Resolve(ctx, r)
	return img
}

// Resolve always returns an image to show. When the load failed it is the
// placeholder and err carries the cause.
func (l *Loader) Resolve(ctx context.Context, r key.Request) (*Image, error) {
	img, err := l.Load(ctx, r)
	if err != nil {
		l.substitute(r.URL, err)
		return l.placeholder, err
	}
	return img, nil
}

// Load returns the image for r or an error from the fetch taxonomy
// (fetch.ErrTransport, fetch.ErrServer, fetch.ErrDecode), or ErrClosed.
// If ctx ends first, Load returns a cancellation TransportError; the shared
// fetch keeps running while other callers still wait on it.
func (l *Loader) Load(ctx context.Context, r key.Request) (*Image, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	k := r.Key()

	if img, ok := l.mem.Get(k); ok {
		l.metrics.Request(ResultHit)
		return img, nil
	}

	status, f, registered := l.table.ObserveOrRegister(k, l.task(k, r))
	switch status {
	case coalesce.StatusCompleted:
		img, _ := f.Result()
		l.metrics.Request(ResultHit)
		return img, nil
	case coalesce.StatusFailed:
		l.metrics.Request(ResultFailed)
		return nil, ErrClosed
	}
	if !registered {
		l.metrics.Request(ResultCoalesced)
	}

	img, err := l.table.Wait(ctx, f)
	if err != nil {
		if errors.Is(err, coalesce.ErrClosed) {
			return nil, ErrClosed
		}
		if registered {
			l.metrics.Request(ResultFailed)
		}
		return nil, fetch.Normalize(r.URL, err)
	}
	if registered {
		l.metrics.Request(ResultFetched)
	}
	return img, nil
}

// Cancel aborts the in-flight fetch for rawURL regardless of how many
// callers wait on it. Waiters receive a cancellation TransportError.
func (l *Loader) Cancel(rawURL string) bool {
	r, err := key.Parse(rawURL)
	if err != nil {
		return false
	}
	return l.table.Cancel(r.Key())
}

// Invalidate drops the cached image for rawURL from memory and, when the
// blob store supports deletion, from the blob tier, so the next load goes
// back to the network. In-flight fetches are not affected.
func (l *Loader) Invalidate(rawURL string) bool {
	r, err := key.Parse(rawURL)
	if err != nil {
		return false
	}
	k := r.Key()
	ctx, cancel := context.WithTimeout(context.Background(), l.blobTimeout)
	defer cancel()
	removed := l.store.Forget(ctx, k)
	pruned := l.table.Prune(k)
	return removed || pruned
}

// Placeholder returns the image substituted on failure.
func (l *Loader) Placeholder() *Image { return l.placeholder }

// Stats is a point-in-time snapshot.
type Stats struct {
	Cached   int   // images in the memory tier
	Bytes    int64 // summed Image.Size of cached images
	Tracked  int   // status table entries
	Pending  int   // unfinished flights
	InFlight int   // limiter slots in use
}

// Stats reports current occupancy.
func (l *Loader) Stats() Stats {
	return Stats{
		Cached:   l.mem.Len(),
		Bytes:    l.mem.Cost(),
		Tracked:  l.table.Len(),
		Pending:  l.table.Pending(),
		InFlight: l.limiter.InFlight(),
	}
}

// Close cancels every in-flight fetch and waits for their goroutines.
// Subsequent loads fail with ErrClosed.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.table.Close()
		_ = l.mem.Close()
	})
	return nil
}

// task is the body of a flight. Errors are returned already normalized.
func (l *Loader) task(k key.Key, r key.Request) coalesce.Task[*Image] {
	return func(ctx context.Context) (*Image, error) {
		// Memory is only written by commit, which never runs for a
		// cancelled flight.
		if img, fromBlob, ok := l.store.Lookup(ctx, k); ok {
			if fromBlob {
				img.fromBlob = true
			}
			return img, nil
		}

		if err := l.limiter.Acquire(ctx); err != nil {
			return nil, fetch.Transport(r.URL, err)
		}
		l.metrics.Slots(l.limiter.InFlight())
		defer func() {
			l.limiter.Release()
			l.metrics.Slots(l.limiter.InFlight())
		}()

		start := time.Now()
		raw, err := l.fetcher.Fetch(ctx, r)
		if err != nil {
			err = fetch.Normalize(r.URL, err)
			l.metrics.Fetch(fetch.KindOf(err).String(), time.Since(start))
			return nil, err
		}
		img, err := Decode(k, raw)
		if err != nil {
			l.metrics.Fetch(fetch.DecodeError.String(), time.Since(start))
			return nil, fetch.Decode(r.URL, err)
		}
		l.metrics.Fetch("ok", time.Since(start))
		return img, nil
	}
}

// commit runs once per successful flight before its waiters are released.
// It is called without the table lock, so evictions it triggers can prune.
func (l *Loader) commit(k key.Key, img *Image) {
	if cur, ok := l.mem.Peek(k); ok && cur == img {
		return
	}
	raw := img.Raw
	if img.fromBlob {
		raw = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.blobTimeout)
	defer cancel()
	l.store.Put(ctx, k, img, raw)
}

// evicted keeps completed statuses in step with the memory tier. It runs
// under a shard lock; the table never calls into the cache while locked.
func (l *Loader) evicted(k key.Key, _ *Image, reason cache.EvictReason) {
	l.table.Prune(k)
	l.log.Debug("image evicted", slog.String("key", k.String()), slog.String("reason", reason.String()))
}

func (l *Loader) substitute(url string, err error) {
	l.metrics.Placeholder()
	attrs := []any{slog.String("url", url), slog.Any("error", err)}
	if kind := fetch.KindOf(err); kind != 0 {
		attrs = append(attrs, slog.String("kind", kind.String()))
	}
	l.log.Warn("image load failed, using placeholder", attrs...)
}
