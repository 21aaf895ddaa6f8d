package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/auth"
	"github.com/recallhq/recall/internal/embedding"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// handleError maps service errors onto HTTP responses.
func handleError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		api.HandleError(w, api.NewValidationError(err.Error()))
	case errors.Is(err, ErrNotFound):
		api.HandleError(w, api.ErrNotFound)
	case errors.Is(err, embedding.ErrProviderUnavailable):
		slog.Warn(op, "error", err)
		api.HandleError(w, api.ErrUpstreamUnavailable)
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	res, err := h.svc.Add(r.Context(), id.ProjectID, &req)
	if err != nil {
		handleError(w, err, "adding memory")
		return
	}

	status := http.StatusCreated
	if res.DedupedFrom != nil {
		status = http.StatusOK
	}
	api.JSON(w, status, res)
}

func (h *Handler) AddBatch(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	var req BatchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	res, err := h.svc.AddBatch(r.Context(), id.ProjectID, &req)
	if err != nil {
		handleError(w, err, "adding memory batch")
		return
	}
	api.JSON(w, http.StatusOK, res)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	// An identity bound to an agent overrides whatever the body claims.
	if id.AgentID != "" {
		req.AgentID = id.AgentID
	}

	results, err := h.svc.Query(r.Context(), id.ProjectID, &req)
	if err != nil {
		handleError(w, err, "searching memories")
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	api.JSON(w, http.StatusOK, results)
}

func (h *Handler) SearchAgents(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	var req CrossAgentQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if id.AgentID != "" {
		req.RequestingAgentID = id.AgentID
	}

	results, err := h.svc.CrossAgentQuery(r.Context(), id.ProjectID, &req)
	if err != nil {
		handleError(w, err, "searching peer memories")
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	api.JSON(w, http.StatusOK, results)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	page, pageSize := 1, 20
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	memories, total, err := h.svc.List(r.Context(), id.ProjectID,
		r.URL.Query().Get("namespace"), r.URL.Query().Get("agent_id"), page, pageSize)
	if err != nil {
		handleError(w, err, "listing memories")
		return
	}
	if memories == nil {
		memories = []Memory{}
	}
	api.JSONPaginated(w, http.StatusOK, memories, total, page, pageSize)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	memID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid memory id"))
		return
	}

	mem, err := h.svc.Get(r.Context(), id.ProjectID, memID)
	if err != nil {
		handleError(w, err, "getting memory")
		return
	}
	api.JSON(w, http.StatusOK, mem)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	memID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid memory id"))
		return
	}

	deleted, err := h.svc.Delete(r.Context(), id.ProjectID, memID)
	if err != nil {
		handleError(w, err, "deleting memory")
		return
	}
	api.JSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) Deprecate(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	memID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid memory id"))
		return
	}

	var req DeprecateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.svc.Deprecate(r.Context(), id.ProjectID, memID, &req); err != nil {
		handleError(w, err, "deprecating memory")
		return
	}
	api.JSONMessage(w, http.StatusOK, "memory deprecated")
}

func (h *Handler) ApplyDelta(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	var req DeltaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	results, err := h.svc.ApplyDelta(r.Context(), id.ProjectID, &req)
	if err != nil {
		handleError(w, err, "applying memory delta")
		return
	}
	api.JSON(w, http.StatusOK, results)
}

// Export streams memories as JSON lines (default) or a single JSON array.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentity(r.Context())

	params := ExportParams{
		Namespace:         r.URL.Query().Get("namespace"),
		AgentID:           r.URL.Query().Get("agent_id"),
		IncludeEmbeddings: r.URL.Query().Get("include_embeddings") == "true",
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "jsonl"
	}
	if format != "jsonl" && format != "json" {
		api.HandleError(w, api.NewBadRequestError("format must be jsonl or json"))
		return
	}

	if format == "jsonl" {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}

	enc := json.NewEncoder(w)
	first := true
	if format == "json" {
		fmt.Fprint(w, "[")
	}
	err := h.svc.Export(r.Context(), id.ProjectID, params, func(m *Memory) error {
		if format == "json" {
			if !first {
				fmt.Fprint(w, ",")
			}
			first = false
			return enc.Encode(m)
		}
		return enc.Encode(m)
	})
	if err != nil {
		// Headers may already be gone; log and cut the stream.
		slog.Error("exporting memories", "error", err)
		return
	}
	if format == "json" {
		fmt.Fprint(w, "]")
	}
}
