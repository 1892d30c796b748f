package api

import (
	"net/http"
	"strconv"

	"storagetier/internal/models"
)

const defaultReportDays = 30

func (s *server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var rc models.RouteContext
	if err := decodeJSON(r, &rc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	decision, err := s.router.Route(r.Context(), rc)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type compareCostsResponse struct {
	FileSize         int64              `json:"fileSize"`
	MonthlyDownloads float64            `json:"monthlyDownloads"`
	Quotes           []models.CostQuote `json:"quotes"`
}

func (s *server) handleCompareCosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fileSize, err := strconv.ParseInt(q.Get("fileSize"), 10, 64)
	if err != nil || fileSize < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "fileSize must be a non-negative byte count", nil)
		return
	}
	downloads := s.cfg.AssumedMonthlyDownloads
	if raw := q.Get("monthlyDownloads"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "monthlyDownloads must be a non-negative number", nil)
			return
		}
		downloads = v
	}
	writeJSON(w, http.StatusOK, compareCostsResponse{
		FileSize:         fileSize,
		MonthlyDownloads: downloads,
		Quotes:           s.router.CompareCosts(fileSize, downloads),
	})
}

func (s *server) handleCostComparison(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultReportDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.optimizer.CostComparison(r.Context(), days))
}

func (s *server) handleCostTrend(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", defaultReportDays)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "points": s.optimizer.CostTrend(r.Context(), days)})
}

func (s *server) handleStorageDistribution(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.optimizer.StorageDistribution(r.Context()))
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs := s.optimizer.GenerateRecommendations(r.Context())
	if kind := r.URL.Query().Get("type"); kind != "" {
		filtered := make([]models.Recommendation, 0, len(recs))
		for _, rec := range recs {
			if string(rec.Type) == kind {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}
