package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform response body: exactly one of data, message or
// error is set.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type pageEnvelope struct {
	Data       any   `json:"data"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func JSONMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Message: message})
}

func JSONPaginated(w http.ResponseWriter, status int, data any, totalCount int64, page, pageSize int) {
	writeJSON(w, status, pageEnvelope{
		Data:       data,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	})
}

func JSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Error: err.Error()})
}

func JSONErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: message})
}
