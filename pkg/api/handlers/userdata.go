package handlers

import (
	"net/http"

	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/engine"
)

// UserDataHandler serves deletion of user data and storage status.
type UserDataHandler struct {
	engine Engine
}

// NewUserDataHandler creates a new UserDataHandler.
func NewUserDataHandler(engine Engine) *UserDataHandler {
	return &UserDataHandler{engine: engine}
}

// Delete handles DELETE /v1/user-data. The body selects keys, categories or
// everything; afterwards nothing in scope is readable or queued.
func (h *UserDataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	scope := engine.Scope{Keys: req.Keys, All: req.All}
	for _, c := range req.Categories {
		category, err := cache.ParseCategory(c)
		if err != nil {
			WriteError(w, err)
			return
		}
		scope.Categories = append(scope.Categories, category)
	}

	report, err := h.engine.DeleteUserData(r.Context(), scope)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, report)
}

// Status handles GET /v1/status.
func (h *UserDataHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.StorageStatus(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, status)
}
