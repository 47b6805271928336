package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/betagouv/euphrosyne-tools-api/internal/lifecycle"
	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

// operationTypes maps the URL verb to the operation type.
var operationTypes = map[string]lifecycle.Type{
	"cool":    lifecycle.TypeCool,
	"restore": lifecycle.TypeRestore,
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:            "ok",
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		OperationsTracked: s.lifecycle.Tracked(),
		Version:           s.config.Version,
	})
}

// handleAccept handles POST /data/projects/{projectID}/{cool|restore}?operation_id=<uuid>.
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	opType, ok := operationTypes[chi.URLParam(r, "operation")]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("operation_id"))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "operation_id is required")
		return
	}
	operationID, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "operation_id must be a UUID")
		return
	}

	op := lifecycle.Operation{
		OperationID: operationID.String(),
		ProjectID:   chi.URLParam(r, "projectID"),
		Type:        opType,
	}
	result, err := s.lifecycle.Accept(op)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to accept operation", "operation_id", op.OperationID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to accept operation")
		return
	}

	respondJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /data/projects/{projectID}/{cool|restore}/{operationID}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	opType, ok := operationTypes[chi.URLParam(r, "operation")]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	projectID := chi.URLParam(r, "projectID")
	if err := storage.ValidateProjectID(projectID); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operationID, err := uuid.Parse(chi.URLParam(r, "operationID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "operation_id must be a UUID")
		return
	}

	op := lifecycle.Operation{OperationID: operationID.String(), ProjectID: projectID, Type: opType}
	view, err := s.lifecycle.GetStatus(r.Context(), op)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "operation not found")
			return
		}
		s.logger.Error("failed to get operation status", "operation_id", op.OperationID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation status")
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
