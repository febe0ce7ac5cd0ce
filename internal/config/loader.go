package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides
// (IMGCACHE_CACHE__MAXBYTES -> cache.maxBytes).
const DefaultEnvPrefix = "IMGCACHE"

// Loader hydrates Config with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader. Empty file paths are skipped.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// canonical restores camelCase keys that env variable names cannot carry.
var canonical = map[string]string{
	"loader.maxconcurrent":     "loader.maxConcurrent",
	"loader.fetchtimeout":      "loader.fetchTimeout",
	"loader.blobtimeout":       "loader.blobTimeout",
	"loader.placeholderfile":   "loader.placeholderFile",
	"cache.maxbytes":           "cache.maxBytes",
	"disk.maxbytes":            "disk.maxBytes",
	"disk.shardprefixlen":      "disk.shardPrefixLen",
	"redis.tls.cafile":         "redis.tls.caFile",
	"http.useragent":           "http.userAgent",
	"http.maxbodybytes":        "http.maxBodyBytes",
	"http.maxidleconnsperhost": "http.maxIdleConnsPerHost",
}

// Load assembles the effective configuration and validates it.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores nest (CACHE__MAXBYTES -> cache.maxbytes).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix+"_", ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap feeds DefaultConfig to the confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"loader": map[string]any{
			"maxConcurrent":   cfg.Loader.MaxConcurrent,
			"fetchTimeout":    cfg.Loader.FetchTimeout.String(),
			"blobTimeout":     cfg.Loader.BlobTimeout.String(),
			"placeholderFile": cfg.Loader.PlaceholderFile,
		},
		"cache": map[string]any{
			"capacity":  cfg.Cache.Capacity,
			"maxBytes":  cfg.Cache.MaxBytes,
			"shards":    cfg.Cache.Shards,
			"policy":    cfg.Cache.Policy,
			"ttl":       cfg.Cache.TTL.String(),
			"probation": cfg.Cache.Probation,
			"ghosts":    cfg.Cache.Ghosts,
		},
		"disk": map[string]any{
			"enabled":        cfg.Disk.Enabled,
			"dir":            cfg.Disk.Dir,
			"maxBytes":       cfg.Disk.MaxBytes,
			"shardPrefixLen": cfg.Disk.ShardPrefixLen,
		},
		"redis": map[string]any{
			"enabled":  cfg.Redis.Enabled,
			"address":  cfg.Redis.Address,
			"username": cfg.Redis.Username,
			"password": cfg.Redis.Password,
			"db":       cfg.Redis.DB,
			"ttl":      cfg.Redis.TTL.String(),
			"prefix":   cfg.Redis.Prefix,
			"tls": map[string]any{
				"enabled": cfg.Redis.TLS.Enabled,
				"caFile":  cfg.Redis.TLS.CAFile,
			},
		},
		"http": map[string]any{
			"userAgent":           cfg.HTTP.UserAgent,
			"maxBodyBytes":        cfg.HTTP.MaxBodyBytes,
			"maxIdleConnsPerHost": cfg.HTTP.MaxIdleConnsPerHost,
		},
		"server": map[string]any{
			"address": cfg.Server.Address,
			"port":    cfg.Server.Port,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
	}
}
