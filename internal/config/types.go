package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the effective runtime configuration.
type Config struct {
	Loader  LoaderConfig  `koanf:"loader"`
	Cache   CacheConfig   `koanf:"cache"`
	Disk    DiskConfig    `koanf:"disk"`
	Redis   RedisConfig   `koanf:"redis"`
	HTTP    HTTPConfig    `koanf:"http"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// LoaderConfig bounds fetch concurrency and picks the failure placeholder.
type LoaderConfig struct {
	MaxConcurrent   int           `koanf:"maxConcurrent"`
	FetchTimeout    time.Duration `koanf:"fetchTimeout"`
	BlobTimeout     time.Duration `koanf:"blobTimeout"`
	PlaceholderFile string        `koanf:"placeholderFile"`
}

// CacheConfig sizes the memory tier. Policy is "lru" or "2q"; Probation and
// Ghosts only apply to 2q and are per shard.
type CacheConfig struct {
	Capacity  int           `koanf:"capacity"`
	MaxBytes  int64         `koanf:"maxBytes"`
	Shards    int           `koanf:"shards"`
	Policy    string        `koanf:"policy"`
	TTL       time.Duration `koanf:"ttl"`
	Probation int           `koanf:"probation"`
	Ghosts    int           `koanf:"ghosts"`
}

// DiskConfig enables the on-disk blob tier.
type DiskConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Dir            string `koanf:"dir"`
	MaxBytes       int64  `koanf:"maxBytes"`
	ShardPrefixLen int    `koanf:"shardPrefixLen"`
}

// RedisConfig enables the Valkey/Redis blob tier.
type RedisConfig struct {
	Enabled  bool           `koanf:"enabled"`
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TTL      time.Duration  `koanf:"ttl"`
	Prefix   string         `koanf:"prefix"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// HTTPConfig tunes the outbound client.
type HTTPConfig struct {
	UserAgent           string `koanf:"userAgent"`
	MaxBodyBytes        int64  `koanf:"maxBodyBytes"`
	MaxIdleConnsPerHost int    `koanf:"maxIdleConnsPerHost"`
}

// ServerConfig is the listener of the HTTP surface.
type ServerConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// Addr joins Address and Port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns the baseline every other source overrides.
func DefaultConfig() Config {
	return Config{
		Loader: LoaderConfig{
			MaxConcurrent: 3,
			FetchTimeout:  15 * time.Second,
			BlobTimeout:   5 * time.Second,
		},
		Cache: CacheConfig{
			Capacity:  512,
			MaxBytes:  256 << 20,
			Policy:    "lru",
			Probation: 16,
			Ghosts:    64,
		},
		Disk: DiskConfig{
			Dir:            "/var/cache/imgcache",
			MaxBytes:       1 << 30,
			ShardPrefixLen: 2,
		},
		Redis: RedisConfig{
			Address: "127.0.0.1:6379",
			TTL:     24 * time.Hour,
			Prefix:  "imgcache:blob:",
		},
		HTTP: HTTPConfig{
			UserAgent:           "imgcache/1.0",
			MaxBodyBytes:        32 << 20,
			MaxIdleConnsPerHost: 10,
		},
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations the loader cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Loader.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("loader.maxConcurrent must be > 0"))
	}
	if c.Loader.FetchTimeout <= 0 {
		errs = append(errs, errors.New("loader.fetchTimeout must be > 0"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be > 0"))
	}
	if c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache.maxBytes must be >= 0"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must be >= 0"))
	}
	switch strings.ToLower(c.Cache.Policy) {
	case "lru", "2q":
	default:
		errs = append(errs, fmt.Errorf("cache.policy %q unsupported (want lru or 2q)", c.Cache.Policy))
	}
	if c.Disk.Enabled && c.Redis.Enabled {
		errs = append(errs, errors.New("disk and redis blob tiers are mutually exclusive"))
	}
	if c.Disk.Enabled && strings.TrimSpace(c.Disk.Dir) == "" {
		errs = append(errs, errors.New("disk.dir required when disk is enabled"))
	}
	if c.Disk.ShardPrefixLen < 0 {
		errs = append(errs, errors.New("disk.shardPrefixLen must be >= 0"))
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Address) == "" {
		errs = append(errs, errors.New("redis.address required when redis is enabled"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
