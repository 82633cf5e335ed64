package handlers

import (
	"net/http"

	"github.com/marmos91/agrisync/pkg/engine"
)

// SyncHandler queues refreshes and exposes the request queue.
type SyncHandler struct {
	engine Engine
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine Engine) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// Refresh handles POST /v1/refresh. All targets are validated before any is
// queued; the response maps each target to its operation id.
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.Targets) == 0 {
		BadRequest(w, "At least one target is required")
		return
	}

	targets := make([]engine.Target, 0, len(req.Targets))
	for _, s := range req.Targets {
		t, err := engine.ParseTarget(s)
		if err != nil {
			WriteError(w, err)
			return
		}
		targets = append(targets, t)
	}

	resp := RefreshResponse{Operations: make(map[string]uint64, len(targets))}
	for _, t := range targets {
		id, err := h.engine.RequestRefresh(r.Context(), t)
		if err != nil {
			WriteError(w, err)
			return
		}
		resp.Operations[t.String()] = id
	}
	WriteJSONAccepted(w, resp)
}

// Operations handles GET /v1/operations.
func (h *SyncHandler) Operations(w http.ResponseWriter, r *http.Request) {
	ops := h.engine.Operations()
	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationToResponse(op))
	}
	WriteJSONOK(w, out)
}
