// Package key normalizes fetch targets and derives their content-addressed keys.
package key

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ErrInvalidURL is returned by Parse when the identifier cannot be fetched over HTTP.
var ErrInvalidURL = errors.New("key: invalid url")

// Key is the hex-encoded SHA-256 digest of a Request's canonical form.
// It is used as the memory cache key, the status table key and the blob name.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// Digest returns the key in "sha256:<hex>" form.
func (k Key) Digest() digest.Digest {
	return digest.NewDigestFromEncoded(digest.SHA256, string(k))
}

// Validate reports whether k looks like a key produced by Request.Key.
func (k Key) Validate() error {
	return k.Digest().Validate()
}

// Request is a normalized fetch target.
// Build it with Parse or New so that equal targets compare equal.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Parse normalizes rawURL into a GET request.
func Parse(rawURL string) (Request, error) {
	return New(http.MethodGet, rawURL, nil)
}

// New normalizes a request descriptor:
//   - method is upper-cased (empty means GET)
//   - scheme and host are lower-cased, default ports and fragments are dropped
//   - header names are canonicalized; empty headers are discarded
func New(method, rawURL string, h http.Header) (Request, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return Request{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return Request{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]" // bare IPv6 literal
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var hdr http.Header
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		if hdr == nil {
			hdr = make(http.Header, len(h))
		}
		hdr[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}

	return Request{Method: method, URL: u.String(), Header: hdr}, nil
}

// Canonical returns the stable textual form hashed by Key:
// method and URL on the first line, then "Name: v1,v2" lines sorted by name.
func (r Request) Canonical() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URL)
	b.WriteByte('\n')

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strings.Join(r.Header[name], ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// Key derives the content-addressed key of r.
func (r Request) Key() Key {
	return Key(digest.SHA256.FromString(r.Canonical()).Encoded())
}

// Equal reports whether r and o describe the same fetch target.
func (r Request) Equal(o Request) bool {
	return r.Canonical() == o.Canonical()
}

// HTTPRequest builds the outbound *http.Request for r.
func (r Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, nil)
	if err != nil {
		return nil, err
	}
	for name, values := range r.Header {
		req.Header[name] = append([]string(nil), values...)
	}
	return req, nil
}
