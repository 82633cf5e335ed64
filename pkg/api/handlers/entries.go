package handlers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/agrisync/pkg/cache"
)

// EntryHandler serves reads, local writes and direct fetches of entries.
type EntryHandler struct {
	engine       Engine
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewEntryHandler creates a new EntryHandler. fetchTimeout bounds a direct
// fetch unless the request carries its own ?timeout=.
func NewEntryHandler(engine Engine, fetchTimeout time.Duration) *EntryHandler {
	return &EntryHandler{engine: engine, fetchTimeout: fetchTimeout, now: time.Now}
}

// keyParam URL-decodes the {key} path parameter. Keys may be passed with
// their discriminator escaped, e.g. "advice:pest%2Fmaize".
func keyParam(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// List handles GET /v1/entries[?category=].
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	var category cache.Category
	if c := r.URL.Query().Get("category"); c != "" {
		parsed, err := cache.ParseCategory(c)
		if err != nil {
			WriteError(w, err)
			return
		}
		category = parsed
	}

	now := h.now()
	metas := h.engine.Entries(category)
	out := make([]EntryResponse, 0, len(metas))
	for _, m := range metas {
		out = append(out, metaToResponse(m, now))
	}
	WriteJSONOK(w, out)
}

// Get handles GET /v1/entries/{key}. It never blocks on the network: an
// absent key answers 404 with found=false, and may queue a refresh.
func (h *EntryHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Read(r.Context(), keyParam(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !res.Found {
		writeJSON(w, http.StatusNotFound, readToResponse(res))
		return
	}
	WriteJSONOK(w, readToResponse(res))
}

// Put handles PUT /v1/entries/{key} - stores a locally produced entry.
func (h *EntryHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	entry := &cache.Entry{
		Key:       keyParam(r),
		Payload:   req.Payload,
		Priority:  req.Priority,
		Encrypted: req.Encrypt,
	}
	if req.FreshnessWindow != "" {
		d, err := time.ParseDuration(req.FreshnessWindow)
		if err != nil || d <= 0 {
			BadRequest(w, "Invalid freshness_window")
			return
		}
		entry.FreshnessWindow = d
	}

	res, err := h.engine.Write(r.Context(), entry)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, WriteResponse{
		Entry:          entryToResponse(res.Entry, false),
		Evicted:        res.Evicted,
		BudgetExceeded: res.BudgetExceeded,
		UsedBytes:      res.UsedBytes,
		BudgetBytes:    res.BudgetBytes,
	})
}

// Fetch handles POST /v1/entries/{key}/fetch - waits for the key to be
// fetched from the provider. On timeout the fetch stays queued.
func (h *EntryHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	timeout := h.fetchTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			BadRequest(w, "Invalid timeout")
			return
		}
		timeout = d
	}

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := h.engine.Fetch(ctx, keyParam(r))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, readToResponse(res))
}
