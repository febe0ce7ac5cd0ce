package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/IvanBrykalov/imgcache/fetch"
	"github.com/IvanBrykalov/imgcache/key"
	"github.com/IvanBrykalov/imgcache/loader"
)

// Response headers set on image responses.
const (
	HeaderPlaceholder = "X-Imgcache-Placeholder"
	HeaderError       = "X-Imgcache-Error"
)

// Images is the part of *loader.Loader the router serves.
type Images interface {
	Resolve(ctx context.Context, r key.Request) (*loader.Image, error)
	Cancel(rawURL string) bool
	Invalidate(rawURL string) bool
	Stats() loader.Stats
}

var _ Images = (*loader.Loader)(nil)

// NewHandler routes:
//
//	GET    /v1/images?url=  image bytes, or the placeholder on failure
//	DELETE /v1/images?url=  cancel any in-flight fetch and drop the cached image from both tiers
//	GET    /healthz         loader occupancy
//	GET    /metrics         metrics, when provided
func NewHandler(images Images, metrics http.Handler, logger *slog.Logger) http.Handler {
	if images == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "loader unavailable", http.StatusServiceUnavailable)
		})
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{images: images, log: logger.With(slog.String("agent", "router"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/images", h.serveImage)
	mux.HandleFunc("DELETE /v1/images", h.serveForget)
	mux.HandleFunc("GET /healthz", h.serveHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

type handler struct {
	images Images
	log    *slog.Logger
}

func (h *handler) serveImage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseTarget(w, r)
	if !ok {
		return
	}
	img, err := h.images.Resolve(r.Context(), req)
	if img == nil {
		h.writeError(w, http.StatusBadGateway, errString(err))
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", contentType(img))
	hdr.Set("Content-Length", strconv.Itoa(len(img.Raw)))
	if img.Placeholder {
		hdr.Set(HeaderPlaceholder, "true")
		hdr.Set("Cache-Control", "no-store")
		if kind := fetch.KindOf(err); kind != 0 {
			hdr.Set(HeaderError, kind.String())
		} else if errors.Is(err, loader.ErrClosed) {
			hdr.Set(HeaderError, "closed")
		}
	} else {
		hdr.Set("ETag", strconv.Quote(string(img.Key)))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Raw); err != nil {
		h.log.Debug("image write aborted", slog.Any("error", err))
	}
}

type forgetResponse struct {
	URL         string `json:"url"`
	Cancelled   bool   `json:"cancelled"`
	Invalidated bool   `json:"invalidated"`
}

func (h *handler) serveForget(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseTarget(w, r)
	if !ok {
		return
	}
	resp := forgetResponse{
		URL:         req.URL,
		Cancelled:   h.images.Cancel(req.URL),
		Invalidated: h.images.Invalidate(req.URL),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status   string `json:"status"`
	Cached   int    `json:"cached"`
	Bytes    int64  `json:"bytes"`
	Tracked  int    `json:"tracked"`
	Pending  int    `json:"pending"`
	InFlight int    `json:"inFlight"`
}

func (h *handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.images.Stats()
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Cached:   st.Cached,
		Bytes:    st.Bytes,
		Tracked:  st.Tracked,
		Pending:  st.Pending,
		InFlight: st.InFlight,
	})
}

func (h *handler) parseTarget(w http.ResponseWriter, r *http.Request) (key.Request, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "url query parameter required")
		return key.Request{}, false
	}
	req, err := key.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return key.Request{}, false
	}
	return req, true
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("response write failed", slog.Any("error", err))
	}
}

func contentType(img *loader.Image) string {
	if img.Format != "" {
		return "image/" + img.Format
	}
	return http.DetectContentType(img.Raw)
}

func errString(err error) string {
	if err == nil {
		return "no image"
	}
	return err.Error()
}
