package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/imgcache/internal/config"
	"github.com/IvanBrykalov/imgcache/key"
)

const imageURL = "https://img.example.com/cat.png"

func pngBody(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mockUpstream(t *testing.T) *httpmock.MockTransport {
	t.Helper()
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodGet, imageURL, httpmock.NewBytesResponder(http.StatusOK, pngBody(t)))
	return mt
}

func TestNewWithDiskTier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Disk.Enabled = true
	cfg.Disk.Dir = t.TempDir()
	mt := mockUpstream(t)

	a, err := New(cfg, nil, WithTransport(mt))
	require.NoError(t, err)

	img := a.Loader.Fetch(context.Background(), imageURL)
	require.False(t, img.Placeholder)
	require.NoError(t, a.Close())

	// a fresh app over the same directory is served from disk
	b, err := New(cfg, nil, WithTransport(mt))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	img = b.Loader.Fetch(context.Background(), imageURL)
	assert.False(t, img.Placeholder)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestNewWithRedisTier(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = srv.Addr()

	a, err := New(cfg, nil, WithTransport(mockUpstream(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	img := a.Loader.Fetch(context.Background(), imageURL)
	require.False(t, img.Placeholder)

	r, err := key.Parse(imageURL)
	require.NoError(t, err)
	assert.True(t, srv.Exists(cfg.Redis.Prefix+string(r.Key())))
}

func TestNewRejectsUnreachableRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis tier")
}

func TestNewTwoQPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Policy = "2q"

	a, err := New(cfg, nil, WithTransport(mockUpstream(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	img := a.Loader.Fetch(context.Background(), imageURL)
	assert.False(t, img.Placeholder)
	assert.Equal(t, 1, a.Loader.Stats().Cached)
}

func TestNewErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown policy",
			mutate: func(c *config.Config) { c.Cache.Policy = "arc" },
			want:   "unknown cache policy",
		},
		{
			name:   "missing placeholder file",
			mutate: func(c *config.Config) { c.Loader.PlaceholderFile = "/nonexistent/placeholder.png" },
			want:   "placeholder",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tc.mutate(&cfg)
			_, err := New(cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestMetricsAreRecorded(t *testing.T) {
	a, err := New(config.DefaultConfig(), nil, WithTransport(mockUpstream(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	a.Loader.Fetch(context.Background(), imageURL)

	mfs, err := a.Metrics.Gatherer().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "imgcache_loader_fetches_total" {
			found = true
		}
	}
	assert.True(t, found)
}
