package loader

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/imgcache/cache"
	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/key"
	"github.com/IvanBrykalov/imgcache/policy"
)

const (
	DefaultMaxConcurrent = 3
	DefaultCapacity      = 512
	defaultBlobTimeout   = 5 * time.Second
)

// Options configures a Loader. Only Fetcher is required.
type Options struct {
	// Fetcher performs network retrieval, usually a *fetch.Client.
	Fetcher fetch.Fetcher

	// MaxConcurrent bounds simultaneous Fetcher calls. Default 3.
	MaxConcurrent int

	// Memory tier. Capacity counts images, MaxBytes bounds Image.Size
	// summed over resident images (0 disables).
	Capacity int
	MaxBytes int64
	Shards   int
	Policy   policy.Policy[key.Key, *Image] // nil means LRU
	TTL      time.Duration
	Clock    cache.Clock

	// Blob is an optional persistent tier holding raw bytes.
	Blob cache.BlobStore
	// BlobTimeout bounds a blob write made after a successful fetch.
	BlobTimeout time.Duration

	// Placeholder is substituted on failure; nil draws DefaultPlaceholder.
	Placeholder *Image

	Logger       *slog.Logger
	Metrics      Metrics
	CacheMetrics cache.Metrics
	BlobMetrics  cache.BlobMetrics
}

func (o *Options) setDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.BlobTimeout <= 0 {
		o.BlobTimeout = defaultBlobTimeout
	}
	if o.Placeholder == nil {
		o.Placeholder = DefaultPlaceholder()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
}
