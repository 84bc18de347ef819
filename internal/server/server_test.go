package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raysh454/spyglass/internal/detector"
	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/htmldiff"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/scheduler"
	"github.com/raysh454/spyglass/internal/store"
	"github.com/raysh454/spyglass/internal/testutil"
)

type fixture struct {
	store  *store.Store
	bus    *eventbus.Bus
	server *Server
	ts     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(64, nil)
	t.Cleanup(bus.Close)

	det, err := detector.New(st, htmldiff.New(0, nil), nil, nil, bus, detector.Config{}, nil)
	if err != nil {
		t.Fatalf("detector.New failed: %v", err)
	}
	sched, err := scheduler.New(st, &testutil.DummyRenderer{}, det, scheduler.Config{}, nil)
	if err != nil {
		t.Fatalf("scheduler.New failed: %v", err)
	}

	srv, err := NewServer(Config{MinCheckInterval: 60}, st, sched, bus, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &fixture{store: st, bus: bus, server: srv, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return v
}

func (f *fixture) createTarget(t *testing.T) model.Target {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/targets", createTargetRequest{
		URL:  "https://example.com/pricing",
		Name: "Example",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	return decode[model.Target](t, resp)
}

func TestCreateTarget(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	if target.URL != "https://example.com/pricing" {
		t.Errorf("Expected normalized URL stored, got %s", target.URL)
	}
	if target.Priority != model.PriorityNormal {
		t.Errorf("Expected default priority, got %s", target.Priority)
	}
	if target.CheckInterval != 3600 {
		t.Errorf("Expected default interval 3600, got %d", target.CheckInterval)
	}
}

func TestCreateTarget_NameDefaultsToHost(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/targets", createTargetRequest{
		URL: "https://Competitor.example.com/pricing/",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	target := decode[model.Target](t, resp)
	if target.Name != "competitor.example.com" {
		t.Errorf("Expected host as default name, got %q", target.Name)
	}
	if target.URL != "https://competitor.example.com/pricing" {
		t.Errorf("Expected canonical URL, got %q", target.URL)
	}
}

func TestCreateTarget_InvalidURL(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/targets", createTargetRequest{
		URL: "ftp://example.com/file",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", resp.StatusCode)
	}
	errBody := decode[errorResponse](t, resp)
	if errBody.Code != "validation" {
		t.Errorf("Expected validation code, got %q", errBody.Code)
	}
}

func TestCreateTarget_BadJSON(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/targets", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestGetTarget_NotFound(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/targets/missing", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
	errBody := decode[errorResponse](t, resp)
	if errBody.Code != "target_not_found" || errBody.Success {
		t.Errorf("Expected target_not_found envelope, got %+v", errBody)
	}
}

func TestUpdateTarget(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	name := "Renamed"
	interval := int64(30) // below the minimum, gets clamped
	resp := f.do(t, http.MethodPut, "/api/targets/"+target.ID, updateTargetRequest{
		Name:     &name,
		Interval: &interval,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	updated := decode[model.Target](t, resp)
	if updated.Name != "Renamed" {
		t.Errorf("Expected renamed target, got %q", updated.Name)
	}
	if updated.CheckInterval != 60 {
		t.Errorf("Expected interval clamped to 60, got %d", updated.CheckInterval)
	}
	if updated.URL != target.URL {
		t.Errorf("Expected URL untouched, got %q", updated.URL)
	}
}

func TestDeleteTarget(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	resp := f.do(t, http.MethodDelete, "/api/targets/"+target.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/targets/"+target.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCapture_InlineHTML(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	resp := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{HTML: "<html><body><p>pasted</p></body></html>"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	res := decode[detector.CaptureResult](t, resp)
	if !res.Initial || res.Snapshot == nil || res.Snapshot.VersionNumber != 1 {
		t.Errorf("Expected initial v1 capture, got %+v", res)
	}
}

func TestCapture_Simulate(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	// Simulate before any version exists is a validation error.
	resp := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{Simulate: true},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 without a version chain, got %d", resp.StatusCode)
	}

	// Seed version 1, then simulate a change against it.
	resp = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{HTML: "<html><body><p class=\"price\">$29/month</p></body></html>"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 seeding v1, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{Simulate: true},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from simulate, got %d", resp.StatusCode)
	}
	res := decode[detector.CaptureResult](t, resp)
	if res.NoChange || res.Snapshot == nil || res.Snapshot.VersionNumber != 2 {
		t.Errorf("Expected a simulated v2 change, got %+v", res)
	}
}

func TestCapture_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/targets/missing/capture", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMonitoringLifecycle(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	// Fresh target: monitoring off, never checked.
	resp := f.do(t, http.MethodGet, "/api/targets/"+target.ID+"/monitoring-status", nil)
	status := decode[monitoringStatusResponse](t, resp)
	if status.Status != "never" || status.MonitoringEnabled {
		t.Errorf("Expected never status, got %+v", status)
	}

	// Start with an interval override.
	resp = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/start-monitoring",
		monitoringRequest{Interval: 600})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/targets/"+target.ID+"/monitoring-status", nil)
	status = decode[monitoringStatusResponse](t, resp)
	if status.Status != "active" || !status.MonitoringEnabled {
		t.Errorf("Expected active status, got %+v", status)
	}

	// Capture once so a pause shows as paused rather than never.
	resp = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{HTML: "<html><body>v1</body></html>"},
	})
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/disable-monitoring", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/targets/"+target.ID+"/monitoring-status", nil)
	status = decode[monitoringStatusResponse](t, resp)
	if status.Status != "paused" {
		t.Errorf("Expected paused status, got %+v", status)
	}
}

func TestListVersions(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	for i, doc := range []string{
		"<html><body><p>one</p></body></html>",
		"<html><body><p>two</p></body></html>",
	} {
		resp := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
			Options: captureOptions{HTML: doc},
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Capture %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	resp := f.do(t, http.MethodGet, "/api/targets/"+target.ID+"/versions", nil)
	snaps := decode[[]model.Snapshot](t, resp)
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 versions, got %d", len(snaps))
	}
	if snaps[0].VersionNumber != 2 || snaps[1].VersionNumber != 1 {
		t.Errorf("Expected newest first, got %d then %d",
			snaps[0].VersionNumber, snaps[1].VersionNumber)
	}

	// Unknown target is a 404, not an empty list.
	resp = f.do(t, http.MethodGet, "/api/targets/missing/versions", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestListChanges_JoinsDiff(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	for _, doc := range []string{
		"<html><body><p>first version</p></body></html>",
		"<html><body><p>second version rewritten</p></body></html>",
	} {
		resp := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
			Options: captureOptions{HTML: doc},
		})
		resp.Body.Close()
	}

	resp := f.do(t, http.MethodGet, "/api/changes?targetId="+target.ID, nil)
	entries := decode[[]changeEntry](t, resp)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 change (initial excluded), got %d", len(entries))
	}
	if entries[0].Snapshot.VersionNumber != 2 {
		t.Errorf("Expected version 2, got %d", entries[0].Snapshot.VersionNumber)
	}
	if entries[0].Diff == nil || entries[0].Diff.ToSnapshotID != entries[0].Snapshot.ID {
		t.Errorf("Expected the joined diff, got %+v", entries[0].Diff)
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)
	ctx := context.Background()

	snap, err := f.store.AppendInitial(ctx, target.ID, "<p>v1</p>", "")
	if err != nil {
		t.Fatal(err)
	}
	alert := &model.Alert{
		TargetID: target.ID, SnapshotID: snap.ID, Title: "Change detected",
		Type: model.ChangeContent, Severity: model.SeverityMedium,
	}
	if _, err := f.store.InsertAlert(ctx, alert); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, "/api/alerts?status=unread", nil)
	alerts := decode[[]model.Alert](t, resp)
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 unread alert, got %d", len(alerts))
	}

	// Bad status filter.
	resp = f.do(t, http.MethodGet, "/api/alerts?status=bogus", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for bogus status, got %d", resp.StatusCode)
	}

	// Move to read.
	resp = f.do(t, http.MethodPut, "/api/alerts/"+alert.ID, alertStatusRequest{Status: "read"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	updated := decode[model.Alert](t, resp)
	if updated.Status != model.AlertRead {
		t.Errorf("Expected read status, got %s", updated.Status)
	}

	// Invalid status value.
	resp = f.do(t, http.MethodPut, "/api/alerts/"+alert.ID, alertStatusRequest{Status: "starred"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown status, got %d", resp.StatusCode)
	}

	// Unknown alert.
	resp = f.do(t, http.MethodPut, "/api/alerts/missing", alertStatusRequest{Status: "read"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/health", nil)
	health := decode[map[string]string](t, resp)
	if health["status"] != "ok" {
		t.Errorf("Expected ok health, got %+v", health)
	}

	resp = f.do(t, http.MethodGet, "/api/stats", nil)
	stats := decode[map[string]any](t, resp)
	for _, key := range []string{"scheduler", "subscribers", "websocket_clients"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("Expected %s in stats, got %+v", key, stats)
		}
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/targets", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS origin header")
	}
}

func TestEventsWebSocket(t *testing.T) {
	f := newFixture(t)
	target := f.createTarget(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// A capture publishes an event, which the hub fans out to the client.
	resp := f.do(t, http.MethodPost, "/api/targets/"+target.ID+"/capture", captureRequest{
		Options: captureOptions{HTML: "<html><body><p>hello</p></body></html>"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 capture, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev model.ChangeEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.TargetID != target.ID || ev.VersionNumber != 1 {
		t.Errorf("Expected the v1 event, got %+v", ev)
	}
}

func TestEventsWebSocket_ClientChurnDuringBroadcast(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/events"
	const clients = 6
	conns := make([]*websocket.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Dial %d failed: %v", i, err)
		}
		conns = append(conns, conn)
	}

	// Stream events through the hub while connections drop out from under
	// it, so sends and client teardown interleave.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = f.bus.Publish(model.ChangeEvent{
				TargetID:      "churn",
				SnapshotID:    fmt.Sprintf("snap-%d", i+1),
				VersionNumber: int64(i + 1),
			})
		}
	}()
	for _, conn := range conns {
		time.Sleep(2 * time.Millisecond)
		conn.Close()
	}
	<-done

	// Every client ends up unregistered and the hub keeps serving.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.server.hub.clientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Expected all clients unregistered, got %d", f.server.hub.clientCount())
}

func TestListTargets_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/targets", nil)
	defer resp.Body.Close()
	raw := new(bytes.Buffer)
	if _, err := raw.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(raw.String()); got != "[]" {
		t.Errorf("Expected empty JSON array, got %q", got)
	}
}

func TestQueryInt(t *testing.T) {
	mk := func(q string) *http.Request {
		return httptest.NewRequest(http.MethodGet, fmt.Sprintf("/x?%s", q), nil)
	}
	if got := queryInt(mk("limit=5"), "limit", 50); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
	if got := queryInt(mk(""), "limit", 50); got != 50 {
		t.Errorf("Expected fallback 50, got %d", got)
	}
	if got := queryInt(mk("limit=-2"), "limit", 50); got != 50 {
		t.Errorf("Expected fallback for negative, got %d", got)
	}
	if got := queryInt(mk("limit=abc"), "limit", 50); got != 50 {
		t.Errorf("Expected fallback for garbage, got %d", got)
	}
}
