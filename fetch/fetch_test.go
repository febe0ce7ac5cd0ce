package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/imgcache/key"
)

const imgURL = "https://example.com/a.png"

func newMockClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	cfg.Transport = mt
	return New(&cfg), mt
}

func mustRequest(t *testing.T, raw string) key.Request {
	t.Helper()
	r, err := key.Parse(raw)
	require.NoError(t, err)
	return r
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, Config{UserAgent: "test-agent"})
	mt.RegisterResponder(http.MethodGet, imgURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "test-agent", req.Header.Get("User-Agent"))
		return httpmock.NewBytesResponse(http.StatusOK, []byte("png-bytes")), nil
	})

	body, err := c.Fetch(context.Background(), mustRequest(t, imgURL))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), body)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestFetch_SendsRequestHeaders(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, Config{})
	mt.RegisterResponder(http.MethodGet, imgURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer x", req.Header.Get("Authorization"))
		assert.Equal(t, "custom", req.Header.Get("User-Agent"))
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	r, err := key.New(http.MethodGet, imgURL, http.Header{
		"Authorization": {"Bearer x"},
		"User-Agent":    {"custom"},
	})
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), r)
	require.NoError(t, err)
}

func TestFetch_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
		maxBody   int64
		kind      Kind
		sentinel  error
		status    int
	}{
		{
			name:      "server error",
			responder: httpmock.NewStringResponder(http.StatusInternalServerError, "oops"),
			kind:      ServerError,
			sentinel:  ErrServer,
			status:    http.StatusInternalServerError,
		},
		{
			name:      "not found",
			responder: httpmock.NewStringResponder(http.StatusNotFound, ""),
			kind:      ServerError,
			sentinel:  ErrServer,
			status:    http.StatusNotFound,
		},
		{
			name:      "not modified",
			responder: httpmock.NewStringResponder(http.StatusNotModified, ""),
			kind:      ServerError,
			sentinel:  ErrServer,
			status:    http.StatusNotModified,
		},
		{
			name:      "empty body",
			responder: httpmock.NewStringResponder(http.StatusOK, ""),
			kind:      TransportError,
			sentinel:  ErrTransport,
		},
		{
			name:      "dial failure",
			responder: httpmock.NewErrorResponder(errors.New("connection refused")),
			kind:      TransportError,
			sentinel:  ErrTransport,
		},
		{
			name:      "body over limit",
			responder: httpmock.NewStringResponder(http.StatusOK, strings.Repeat("x", 64)),
			maxBody:   16,
			kind:      TransportError,
			sentinel:  ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mt := newMockClient(t, Config{MaxBodyBytes: tt.maxBody})
			mt.RegisterResponder(http.MethodGet, imgURL, tt.responder)

			body, err := c.Fetch(context.Background(), mustRequest(t, imgURL))
			require.Error(t, err)
			assert.Nil(t, body)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(err))

			var fe *Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, imgURL, fe.URL)
			assert.Equal(t, tt.status, fe.StatusCode)
		})
	}
}

func blockUntilCancelled(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestFetch_TimeoutIsTransportError(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, Config{Timeout: 20 * time.Millisecond})
	mt.RegisterResponder(http.MethodGet, imgURL, blockUntilCancelled)

	start := time.Now()
	_, err := c.Fetch(context.Background(), mustRequest(t, imgURL))
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Cancelled())
}

func TestFetch_CancellationAbortsRequest(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t, Config{})
	started := make(chan struct{})
	mt.RegisterResponder(http.MethodGet, imgURL, func(req *http.Request) (*http.Response, error) {
		close(started)
		return blockUntilCancelled(req)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctx, mustRequest(t, imgURL))
		errCh <- err
	}()

	<-started
	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTransport)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch did not return after cancellation")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Normalize(imgURL, nil))

	server := Server(imgURL, 502)
	assert.Same(t, server, Normalize(imgURL, server))

	err := Normalize(imgURL, context.Canceled)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)

	dec := Decode(imgURL, errors.New("bad magic"))
	assert.ErrorIs(t, dec, ErrDecode)
	assert.NotErrorIs(t, dec, ErrTransport)
	assert.Contains(t, dec.Error(), "decode")
	assert.Contains(t, server.Error(), "502")
}

func TestFetcherFunc(t *testing.T) {
	t.Parallel()

	var f Fetcher = FetcherFunc(func(context.Context, key.Request) ([]byte, error) { return []byte("x"), nil })
	b, err := f.Fetch(context.Background(), key.Request{})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), b)
}
