package loader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/imgcache/key"
)

func pngBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = 0x7f
	}
	m.SetRGBA(0, 0, color.RGBA{R: 0xff, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return buf.Bytes()
}

// fakeFetcher counts calls and tracks how many run at once.
type fakeFetcher struct {
	fn func(ctx context.Context, r key.Request) ([]byte, error)

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
	cur   atomic.Int32
	peak  atomic.Int32
}

func newFakeFetcher(fn func(ctx context.Context, r key.Request) ([]byte, error)) *fakeFetcher {
	return &fakeFetcher{fn: fn, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, r key.Request) ([]byte, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[r.URL]++
	f.mu.Unlock()

	n := f.cur.Add(1)
	defer f.cur.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return f.fn(ctx, r)
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newTestLoader(t *testing.T, opt Options) *Loader {
	t.Helper()
	l, err := New(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func mustRequest(t testing.TB, raw string) key.Request {
	t.Helper()
	r, err := key.Parse(raw)
	require.NoError(t, err)
	return r
}

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) NowUnixNano() int64      { return c.now.Load() }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// stubBlob is an in-memory blob store. When gate is set, Read signals
// entered and then blocks until gate is closed, ignoring its context.
type stubBlob struct {
	gate    chan struct{}
	entered chan struct{}

	mu     sync.Mutex
	data   map[string][]byte
	writes int
}

func newStubBlob() *stubBlob { return &stubBlob{data: make(map[string][]byte)} }

func (b *stubBlob) Read(_ context.Context, k string) ([]byte, bool, error) {
	if b.gate != nil {
		b.entered <- struct{}{}
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[k]
	return v, ok, nil
}

func (b *stubBlob) Write(_ context.Context, k string, v []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	b.data[k] = v
	return nil
}

func (b *stubBlob) Delete(_ context.Context, k string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[k]
	delete(b.data, k)
	return ok, nil
}

func (b *stubBlob) has(k string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[k]
	return ok
}

func (b *stubBlob) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}
