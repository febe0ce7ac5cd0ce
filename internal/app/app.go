// Package app assembles a Loader and its collaborators from configuration.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/imgcache/cache"
	"github.com/IvanBrykalov/imgcache/cache/disk"
	"github.com/IvanBrykalov/imgcache/cache/valkey"
	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/internal/config"
	"github.com/IvanBrykalov/imgcache/key"
	"github.com/IvanBrykalov/imgcache/loader"
	"github.com/IvanBrykalov/imgcache/metrics/prom"
	"github.com/IvanBrykalov/imgcache/policy"
	"github.com/IvanBrykalov/imgcache/policy/lru"
	"github.com/IvanBrykalov/imgcache/policy/twoq"
)

// App owns a configured Loader and everything that must be closed with it.
type App struct {
	Loader  *loader.Loader
	Metrics *prom.Adapter

	closers []func() error
	log     *slog.Logger
}

type options struct {
	transport http.RoundTripper
	registry  *prometheus.Registry
}

// Option adjusts how New wires collaborators.
type Option func(*options)

// WithTransport replaces the outbound HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRegistry registers metrics with reg instead of a dedicated registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds an App from cfg. cfg is expected to be validated.
func New(cfg config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	a := &App{
		Metrics: prom.New(o.registry, "", nil),
		log:     log,
	}

	blob, err := a.blobStore(cfg)
	if err != nil {
		return nil, err
	}

	var placeholder *loader.Image
	if cfg.Loader.PlaceholderFile != "" {
		placeholder, err = loader.LoadPlaceholder(cfg.Loader.PlaceholderFile)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	pol, err := buildPolicy(cfg.Cache)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	client := fetch.New(&fetch.Config{
		Timeout:             cfg.Loader.FetchTimeout,
		UserAgent:           cfg.HTTP.UserAgent,
		MaxBodyBytes:        cfg.HTTP.MaxBodyBytes,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
		Transport:           o.transport,
		Logger:              log.With(slog.String("agent", "fetch")),
	})

	l, err := loader.New(loader.Options{
		Fetcher:       client,
		MaxConcurrent: cfg.Loader.MaxConcurrent,
		Capacity:      cfg.Cache.Capacity,
		MaxBytes:      cfg.Cache.MaxBytes,
		Shards:        cfg.Cache.Shards,
		Policy:        pol,
		TTL:           cfg.Cache.TTL,
		Blob:          blob,
		BlobTimeout:   cfg.Loader.BlobTimeout,
		Placeholder:   placeholder,
		Logger:        log.With(slog.String("agent", "loader")),
		Metrics:       a.Metrics,
		CacheMetrics:  a.Metrics,
		BlobMetrics:   a.Metrics,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Loader = l
	// the loader goes first so in-flight commits finish before blob tiers close
	a.closers = append([]func() error{l.Close}, a.closers...)
	return a, nil
}

// Close shuts the loader down and releases blob tier connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) blobStore(cfg config.Config) (cache.BlobStore, error) {
	switch {
	case cfg.Disk.Enabled:
		store, err := disk.New(cfg.Disk.Dir,
			disk.WithMaxBytes(cfg.Disk.MaxBytes),
			disk.WithShardPrefixLen(cfg.Disk.ShardPrefixLen),
		)
		if err != nil {
			return nil, fmt.Errorf("app: disk tier: %w", err)
		}
		a.log.Info("disk blob tier enabled", slog.String("dir", store.Dir()), slog.Int64("bytes", store.SizeBytes()))
		return store, nil
	case cfg.Redis.Enabled:
		store, err := valkey.New(valkey.Config{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      valkey.TLSConfig{Enabled: cfg.Redis.TLS.Enabled, CAFile: cfg.Redis.TLS.CAFile},
			TTL:      cfg.Redis.TTL,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis tier: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.log.Info("redis blob tier enabled", slog.String("address", cfg.Redis.Address))
		return store, nil
	default:
		return nil, nil
	}
}

func buildPolicy(c config.CacheConfig) (policy.Policy[key.Key, *loader.Image], error) {
	switch strings.ToLower(c.Policy) {
	case "", "lru":
		return lru.New[key.Key, *loader.Image](), nil
	case "2q":
		return twoq.New[key.Key, *loader.Image](c.Probation, c.Ghosts), nil
	default:
		return nil, fmt.Errorf("app: unknown cache policy %q", c.Policy)
	}
}
