package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"storagetier/internal/ws"
)

type sseEvent struct {
	id    string
	event string
	data  string
}

type sseStream struct {
	res    *http.Response
	reader *bufio.Reader
	retry  string
}

// openEventStream connects and reads up to the ": ok" preamble, after which the subscription is live.
func openEventStream(t *testing.T, ts *testServer, query string, header http.Header) *sseStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/api/v1/events"+query, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	expectStatus(t, res, http.StatusOK)
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type=%q", ct)
	}

	s := &sseStream{res: res, reader: bufio.NewReader(res.Body)}
	for {
		line := s.readLine(t)
		if v, ok := strings.CutPrefix(line, "retry: "); ok {
			s.retry = v
		}
		if line == ": ok" {
			return s
		}
	}
}

func (s *sseStream) readLine(t *testing.T) string {
	t.Helper()
	line, err := s.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// next returns the next dispatched event, skipping comments and heartbeats.
func (s *sseStream) next(t *testing.T) sseEvent {
	t.Helper()
	var evt sseEvent
	for {
		line := s.readLine(t)
		switch {
		case line == "":
			if evt.event != "" {
				return evt
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			evt.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			evt.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			evt.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsStreamCarriesMigrationEvents(t *testing.T) {
	ts := newTestServer(t, testConfig())
	stream := openEventStream(t, ts, "?types=migration", nil)
	if stream.retry != "3000" {
		t.Fatalf("retry hint=%q, want 3000", stream.retry)
	}

	ts.hub.Publish(ws.Event{Type: ws.EventDailyCheck, Payload: map[string]any{"queued": 0}})
	ts.hub.Publish(ws.Event{Type: ws.EventMigrationStarted, TaskID: "task-1"})
	ts.hub.Publish(ws.Event{Type: ws.EventMigrationCompleted, TaskID: "task-1", Payload: map[string]any{"status": "completed"}})

	started := stream.next(t)
	if started.event != ws.EventMigrationStarted || started.id != "2" {
		t.Fatalf("unexpected first event: %+v", started)
	}
	var evt ws.Event
	if err := json.Unmarshal([]byte(started.data), &evt); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if evt.TaskID != "task-1" || evt.Seq != 2 {
		t.Fatalf("unexpected payload: %+v", evt)
	}

	completed := stream.next(t)
	if completed.event != ws.EventMigrationCompleted || completed.id != "3" {
		t.Fatalf("unexpected second event: %+v", completed)
	}
}

func TestEventsStreamReportsARealMigration(t *testing.T) {
	ts := newTestServer(t, testConfig())

	up := doUpload(t, ts.srv, "/api/v1/packages/model/m-sse?source=ai_agent", []byte("weights"))
	up.Body.Close()
	expectStatus(t, up, http.StatusCreated)

	stream := openEventStream(t, ts, "?types=migration.started,migration.completed", nil)

	res := doJSONRequest(t, ts.srv, http.MethodPost, "/api/v1/migrations", map[string]any{
		"packageId":   "m-sse",
		"packageType": "model",
		"toTier":      "cold",
		"execute":     true,
	})
	res.Body.Close()
	expectStatus(t, res, http.StatusAccepted)

	started := stream.next(t)
	if started.event != ws.EventMigrationStarted {
		t.Fatalf("expected migration.started, got %+v", started)
	}
	completed := stream.next(t)
	if completed.event != ws.EventMigrationCompleted {
		t.Fatalf("expected migration.completed, got %+v", completed)
	}
	var evt ws.Event
	if err := json.Unmarshal([]byte(completed.data), &evt); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	payload, ok := evt.Payload.(map[string]any)
	if !ok || payload["status"] != "completed" {
		t.Fatalf("unexpected completion payload: %+v", evt.Payload)
	}
}

func TestEventsStreamReplaysAfterLastEventID(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.hub.Publish(ws.Event{Type: ws.EventMigrationQueued, TaskID: "task-1"})
	ts.hub.Publish(ws.Event{Type: ws.EventMigrationStarted, TaskID: "task-1"})
	ts.hub.Publish(ws.Event{Type: ws.EventMigrationCompleted, TaskID: "task-1"})

	stream := openEventStream(t, ts, "", http.Header{"Last-Event-Id": []string{"1"}})

	if evt := stream.next(t); evt.event != ws.EventMigrationStarted || evt.id != "2" {
		t.Fatalf("unexpected replayed event: %+v", evt)
	}
	if evt := stream.next(t); evt.event != ws.EventMigrationCompleted || evt.id != "3" {
		t.Fatalf("unexpected replayed event: %+v", evt)
	}
}

func TestEventTypeFilter(t *testing.T) {
	all := eventTypeFilter("")
	if !all(ws.EventDailyCheck) || !all(ws.EventMigrationQueued) {
		t.Fatalf("empty filter should match everything")
	}

	migrations := eventTypeFilter(" migration. , scheduler.daily_check")
	for _, typ := range []string{ws.EventMigrationQueued, ws.EventMigrationStarted, ws.EventMigrationCompleted, ws.EventDailyCheck} {
		if !migrations(typ) {
			t.Fatalf("%s should match", typ)
		}
	}
	if migrations("migrationx.started") || migrations("scheduler.other") {
		t.Fatalf("filter matched an unrelated type")
	}
}
