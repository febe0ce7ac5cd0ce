// Package fetch performs the network retrieval of a single image request.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/IvanBrykalov/imgcache/key"
)

const (
	// DefaultTimeout bounds one request including reading the body.
	DefaultTimeout = 15 * time.Second
	// DefaultMaxBodyBytes caps the accepted body size.
	DefaultMaxBodyBytes = 32 << 20

	defaultUserAgent           = "imgcache/1.0"
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultDialKeepAlive       = 30 * time.Second
)

// ErrEmptyBody is the cause of a TransportError for a 2xx response without a body.
var ErrEmptyBody = errors.New("empty body")

// ErrBodyTooLarge is the cause of a TransportError for a body over the limit.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// Fetcher retrieves the raw bytes of a request.
type Fetcher interface {
	Fetch(ctx context.Context, r key.Request) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, r key.Request) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, r key.Request) ([]byte, error) { return f(ctx, r) }

// Config tunes the HTTP client. Zero values fall back to defaults.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	MaxBodyBytes        int64
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Transport replaces the tuned transport, e.g. in tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client fetches requests over HTTP. Safe for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	maxBody   int64
	log       *slog.Logger
}

var _ Fetcher = (*Client)(nil)

// New builds a Client. cfg may be nil.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = defaultIdleConnTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	rt := c.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        c.MaxIdleConns,
			MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
			IdleConnTimeout:     c.IdleConnTimeout,
			TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		}
	}

	return &Client{
		// No client timeout: it is applied per request through the context.
		http:      &http.Client{Transport: rt},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
		maxBody:   c.MaxBodyBytes,
		log:       c.Logger,
	}
}

// Fetch performs r and returns its body.
//
// It succeeds only on a 2xx status with a non-empty body. Non-2xx responses
// are ServerErrors; everything else, including timeout and cancellation of
// ctx, is a TransportError.
func (c *Client) Fetch(ctx context.Context, r key.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := r.HTTPRequest(ctx)
	if err != nil {
		return nil, Transport(r.URL, err)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Transport(r.URL, contextCause(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, Server(r.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, Transport(r.URL, contextCause(ctx, err))
	}
	if int64(len(body)) > c.maxBody {
		return nil, Transport(r.URL, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, c.maxBody))
	}
	if len(body) == 0 {
		return nil, Transport(r.URL, ErrEmptyBody)
	}

	c.log.Debug("fetched",
		slog.String("url", r.URL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("took", time.Since(start)))
	return body, nil
}

// contextCause prefers the context error so timeouts and cancellations
// match context.DeadlineExceeded and context.Canceled.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
