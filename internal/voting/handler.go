package voting

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/auth"
	"github.com/recallhq/recall/internal/memory"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	memID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid memory id"))
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if id.AgentID != "" {
		req.AgentID = id.AgentID
	}

	res, err := h.svc.Vote(r.Context(), id.ProjectID, memID, &req)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrInvalidInput):
			api.HandleError(w, api.NewValidationError(err.Error()))
		case errors.Is(err, ErrMemoryNotFound):
			api.HandleError(w, api.ErrNotFound)
		default:
			slog.Error("recording vote", "error", err)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) CurationReport(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	report, err := h.svc.CurationReport(r.Context(), id.ProjectID)
	if err != nil {
		slog.Error("building curation report", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if report.Entries == nil {
		report.Entries = []CurationEntry{}
	}
	api.JSON(w, http.StatusOK, report)
}
