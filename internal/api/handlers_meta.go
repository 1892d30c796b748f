package api

import (
	"context"
	"net/http"
	"time"

	"storagetier/internal/models"
)

func (s *server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	var uploadMaxBytes *int64
	if s.cfg.UploadMaxBytes > 0 {
		v := s.cfg.UploadMaxBytes
		uploadMaxBytes = &v
	}
	resp := models.MetaResponse{
		Environment:      s.cfg.Environment,
		ServerAddr:       s.serverAddr,
		APITokenEnabled:  s.cfg.APIToken != "",
		SchedulerEnabled: s.cfg.SchedulerEnabled,
		DailyRunAt:       s.cfg.DailyRunAt,
		UploadMaxBytes:   uploadMaxBytes,
		Backends:         []models.BackendStatus{},
		Tiers:            map[models.DataTier]models.BackendName{},
	}
	for _, tier := range models.AllTiers {
		resp.Tiers[tier] = s.catalog.OptimalBackend(tier)
	}

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		health := s.registry.Health(ctx)
		for _, name := range s.registry.Names() {
			profile, _ := s.catalog.Profile(name)
			resp.Backends = append(resp.Backends, models.BackendStatus{
				Name:    name,
				Healthy: health[name],
				Profile: profile,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
