package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"storagetier/internal/models"
)

func (s *server) handleListMigrations(w http.ResponseWriter, r *http.Request) {
	var filter models.MigrationTaskFilter
	q := r.URL.Query()
	if status := q.Get("status"); status != "" {
		st := models.MigrationStatus(status)
		filter.Status = &st
	}
	filter.PackageID = q.Get("packageId")
	filter.PackageType = q.Get("packageType")

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	filter.Limit = limit

	if cursor := q.Get("cursor"); cursor != "" {
		filter.Cursor = &cursor
	}

	resp, err := s.migrations.ListTasks(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type queueMigrationRequest struct {
	PackageID   string          `json:"packageId"`
	PackageType string          `json:"packageType"`
	ToTier      models.DataTier `json:"toTier"`
	Priority    *int            `json:"priority,omitempty"`
	Execute     bool            `json:"execute,omitempty"`
}

type queueMigrationResponse struct {
	Task   models.MigrationTask    `json:"task"`
	Result *models.MigrationResult `json:"result,omitempty"`
}

func (s *server) handleQueueMigration(w http.ResponseWriter, r *http.Request) {
	var req queueMigrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	if req.PackageID == "" || req.PackageType == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "packageId and packageType are required", nil)
		return
	}

	planned, err := s.migrations.PlanMigration(r.Context(), req.PackageID, req.PackageType, req.ToTier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Priority != nil {
		planned.Priority = *req.Priority
	}
	id, err := s.migrations.QueueMigration(r.Context(), planned)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var result *models.MigrationResult
	if req.Execute {
		res := s.migrations.ExecuteMigration(r.Context(), id)
		result = &res
	}
	task, err := s.migrations.GetTask(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueMigrationResponse{Task: task, Result: result})
}

func (s *server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.migrations.QueueStatus(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	task, err := s.migrations.GetTask(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *server) handleExecuteMigration(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if _, err := s.migrations.GetTask(r.Context(), taskID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.migrations.ExecuteMigration(r.Context(), taskID))
}

func (s *server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	summary := s.migrations.ProcessMigrationQueue(r.Context())
	status := http.StatusOK
	if summary.Skipped {
		status = http.StatusAccepted
	}
	writeJSON(w, status, summary)
}

func (s *server) handleDailyCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.migrations.RunDailyMigrationCheck(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
