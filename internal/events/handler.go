package events

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/auth"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List serves the project's event timeline, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	params := ListParams{Page: 1, PageSize: 20}
	q := r.URL.Query()

	if p := q.Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			params.Page = v
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			params.PageSize = v
		}
	}
	params.EventType = EventType(q.Get("event_type"))
	if mid := q.Get("memory_id"); mid != "" {
		parsed, err := uuid.Parse(mid)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid memory_id"))
			return
		}
		params.MemoryID = &parsed
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("from must be RFC3339"))
			return
		}
		params.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("to must be RFC3339"))
			return
		}
		params.To = &t
	}

	evs, total, err := h.repo.List(r.Context(), id.ProjectID, params)
	if err != nil {
		slog.Error("listing events", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if evs == nil {
		evs = []Event{}
	}
	api.JSONPaginated(w, http.StatusOK, evs, total, params.Page, params.PageSize)
}
