// Package valkey is a remote blob tier backed by Valkey or Redis.
package valkey

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/IvanBrykalov/imgcache/cache"
)

// DefaultPrefix namespaces blob keys.
const DefaultPrefix = "imgcache:blob:"

// TLSConfig enables TLS to the server, optionally pinning a CA bundle.
type TLSConfig struct {
	Enabled bool
	CAFile  string
}

// Config describes the connection and entry lifetime.
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      TLSConfig

	// TTL bounds how long blobs live on the server. 0 keeps them until
	// the server evicts them.
	TTL time.Duration
	// Prefix is prepended to every key. Empty means DefaultPrefix.
	Prefix string
}

// Store implements cache.BlobStore and cache.BlobDeleter.
type Store struct {
	client valkey.Client
	ttl    time.Duration
	prefix string
}

var (
	_ cache.BlobStore   = (*Store)(nil)
	_ cache.BlobDeleter = (*Store)(nil)
)

// New dials the server and verifies it answers PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey: address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}
	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("valkey: read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("valkey: ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("valkey: client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, ttl: cfg.TTL, prefix: prefix}, nil
}

// Read fetches the blob stored under k.
func (s *Store) Read(ctx context.Context, k string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+k).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkey: get: %w", err)
	}
	data, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("valkey: get bytes: %w", err)
	}
	return data, true, nil
}

// Write stores data under k, expiring it after the configured TTL.
func (s *Store) Write(ctx context.Context, k string, data []byte) error {
	var cmd valkey.Completed
	if s.ttl > 0 {
		cmd = s.client.B().Set().Key(s.prefix + k).Value(valkey.BinaryString(data)).Px(s.ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(s.prefix + k).Value(valkey.BinaryString(data)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey: set: %w", err)
	}
	return nil
}

// Delete removes k and reports whether it existed.
func (s *Store) Delete(ctx context.Context, k string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Del().Key(s.prefix+k).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("valkey: del: %w", err)
	}
	return n > 0, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}
