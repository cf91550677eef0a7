package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/flowcast/internal/flow"
	"github.com/soochol/flowcast/internal/services"
)

type workflowStatusRequest struct {
	Name   string      `json:"name"`
	Status flow.Status `json:"status"`
	Usage  *flow.Usage `json:"usage"`
}

type taskRequest struct {
	Name   string         `json:"name"`
	Status flow.Status    `json:"status"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

type checkpointRequest struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

func (s *Server) updateWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Resolve(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req workflowStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wf, err := s.stateSvc.UpdateWorkflowStatus(r.Context(), chi.URLParam(r, "id"), services.WorkflowUpdate{
		Name:   req.Name,
		Status: req.Status,
		Usage:  req.Usage,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) upsertTask(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Resolve(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.stateSvc.UpsertTask(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskId"), services.TaskUpdate{
		Name:   req.Name,
		Status: req.Status,
		Input:  req.Input,
		Output: req.Output,
		Error:  req.Error,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) addCheckpoint(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Resolve(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req checkpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cp, err := s.stateSvc.AddCheckpoint(r.Context(), chi.URLParam(r, "id"), req.Name, req.Data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("api: state write failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
