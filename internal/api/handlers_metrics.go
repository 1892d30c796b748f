package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleMetrics refreshes the migration queue gauges from the store before each scrape so that
// tasks queued or finished by other replicas show up.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	if s.migrations != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if _, err := s.migrations.QueueStatus(ctx); err != nil {
			s.logger.Warn("refresh migration queue gauges", zap.Error(err))
		}
		cancel()
	}
	s.metrics.Handler().ServeHTTP(w, r)
}
