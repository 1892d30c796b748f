package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"storagetier/internal/ws"
)

const sseRetryMillis = 3000

// handleEventsSSE streams migration and scheduler events. Clients resume with Last-Event-ID
// (or afterSeq) and may narrow the stream with types=migration.completed,scheduler.
func (s *server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported", nil)
		return
	}
	match := eventTypeFilter(r.URL.Query().Get("types"))

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client, backlog := s.hub.SubscribeFrom(afterSeqParam(r))
	defer s.hub.Unsubscribe(client)
	s.metrics.IncEventsConnections()
	defer s.metrics.DecEventsConnections()

	// Subscribed before the preamble: a client that has read ": ok" sees every later event.
	_, _ = fmt.Fprintf(w, "retry: %d\n: ok\n\n", sseRetryMillis)

	for _, msg := range backlog {
		if match(msg.Type) {
			writeSSEMessage(w, msg)
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			if !match(msg.Type) {
				continue
			}
			writeSSEMessage(w, msg)
			flusher.Flush()
		}
	}
}

func writeSSEMessage(w http.ResponseWriter, msg ws.Message) {
	_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", msg.Seq, msg.Type, msg.Data)
}

// eventTypeFilter accepts exact event types or a family prefix ("migration" matches
// migration.started and migration.completed). An empty list matches everything.
func eventTypeFilter(raw string) func(string) bool {
	var wanted []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			wanted = append(wanted, strings.TrimSuffix(part, "."))
		}
	}
	if len(wanted) == 0 {
		return func(string) bool { return true }
	}
	return func(eventType string) bool {
		for _, w := range wanted {
			if eventType == w || strings.HasPrefix(eventType, w+".") {
				return true
			}
		}
		return false
	}
}
