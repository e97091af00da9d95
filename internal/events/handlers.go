package events

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/guardrail/internal/common"
)

// Handler serves the persisted event log.
type Handler struct {
	Store EventStore
}

// List returns recent events, optionally scoped to one breaker via the route.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "event store not configured", nil)
		return
	}
	limit, _ := common.ParseLimitOffset(r, 100, 500)
	breaker := chi.URLParam(r, "name")
	rows, err := h.Store.ListEvents(r.Context(), breaker, limit)
	if err != nil {
		common.JSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "event store unavailable", nil)
		return
	}
	if rows == nil {
		rows = []StoredEvent{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
