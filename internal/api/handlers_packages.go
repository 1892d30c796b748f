package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"storagetier/internal/models"
	"storagetier/internal/uploads"
)

func (s *server) handleUploadPackage(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireUploadSlot(w)
	if !ok {
		return
	}
	defer release()

	packageType := chi.URLParam(r, "packageType")
	packageID := chi.URLParam(r, "packageId")

	q := r.URL.Query()
	source, err := models.ParseUploadSource(q.Get("source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "source must be ai_agent or user", map[string]any{"source": q.Get("source")})
		return
	}
	isTest := false
	if raw := q.Get("isTest"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "isTest must be a boolean", nil)
			return
		}
		isTest = v
	}

	maxBytes := s.cfg.UploadMaxBytes
	body := r.Body
	if maxBytes > 0 {
		if r.ContentLength > maxBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds maxBytes", map[string]any{"maxBytes": maxBytes})
			return
		}
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds maxBytes", map[string]any{"maxBytes": maxBytes})
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body", map[string]any{"error": err.Error()})
		return
	}

	res, err := s.uploads.Upload(r.Context(), uploads.UploadRequest{
		RouteContext: models.RouteContext{
			UploadSource: source,
			PackageType:  packageType,
			UserID:       q.Get("userId"),
			IsTest:       isTest,
		},
		PackageID:   packageID,
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *server) handleGetDownloadURL(w http.ResponseWriter, r *http.Request) {
	packageType := chi.URLParam(r, "packageType")
	packageID := chi.URLParam(r, "packageId")

	seconds, err := queryInt(r, "expiresIn", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := s.uploads.DownloadURL(r.Context(), packageID, packageType, time.Duration(seconds)*time.Second)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
