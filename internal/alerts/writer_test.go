package alerts

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/store"
)

type fixture struct {
	store  *store.Store
	writer *Writer
	target *model.Target
	snapID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	target, err := st.CreateTarget(ctx, store.NewTarget{
		URL: "https://example.com", Name: "Example", CheckInterval: 3600,
	})
	if err != nil {
		t.Fatalf("CreateTarget failed: %v", err)
	}
	snap, err := st.AppendInitial(ctx, target.ID, "<p>v1</p>", "")
	if err != nil {
		t.Fatalf("AppendInitial failed: %v", err)
	}

	w, err := NewWriter(st, nil)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	return &fixture{store: st, writer: w, target: target, snapID: snap.ID}
}

func (f *fixture) event() model.ChangeEvent {
	return model.ChangeEvent{
		TargetID:         f.target.ID,
		TargetName:       f.target.Name,
		TargetURL:        f.target.URL,
		SnapshotID:       f.snapID,
		VersionNumber:    2,
		ChangeCount:      3,
		ChangePercentage: 12.5,
		Severity:         model.SeverityMedium,
		ChangeType:       model.ChangePricing,
		Sections: []model.Section{
			{Selector: "section#pricing", Type: model.SectionPricing, Confidence: 0.95},
		},
	}
}

func TestHandle_WritesAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.writer.handle(ctx, f.event())

	alerts, err := f.store.ListAlerts(ctx, f.target.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Title != "Pricing change on Example" {
		t.Errorf("Expected pricing title, got %q", a.Title)
	}
	if !strings.Contains(a.Message, "section#pricing") {
		t.Errorf("Expected section in message, got %q", a.Message)
	}
	if a.Severity != model.SeverityMedium || a.VersionNumber != 2 {
		t.Errorf("Expected event fields carried over, got %+v", a)
	}
	if a.Status != model.AlertUnread {
		t.Errorf("Expected unread, got %s", a.Status)
	}

	written, duplicates := f.writer.Stats()
	if written != 1 || duplicates != 0 {
		t.Errorf("Expected 1 written 0 duplicates, got %d/%d", written, duplicates)
	}
}

func TestHandle_DuplicateDeliveryCollapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.writer.handle(ctx, f.event())
	f.writer.handle(ctx, f.event())

	alerts, err := f.store.ListAlerts(ctx, f.target.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Errorf("Expected duplicate delivery to collapse, got %d alerts", len(alerts))
	}
	written, duplicates := f.writer.Stats()
	if written != 1 || duplicates != 1 {
		t.Errorf("Expected 1 written 1 duplicate, got %d/%d", written, duplicates)
	}
}

func TestHandle_SkipsInitialCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.event()
	ev.ChangeCount = 0
	ev.VersionNumber = 1
	f.writer.handle(ctx, ev)

	alerts, err := f.store.ListAlerts(ctx, f.target.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("Expected no alert for an initial capture, got %d", len(alerts))
	}
}

func TestHandle_SkipsTechnicalNoise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := f.event()
	ev.Severity = model.SeverityLow
	ev.ChangeType = model.ChangeOther
	f.writer.handle(ctx, ev)

	alerts, err := f.store.ListAlerts(ctx, f.target.ID, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("Expected low/other events to stay out of the inbox, got %d", len(alerts))
	}

	// A low severity with a real change type still alerts.
	ev = f.event()
	ev.Severity = model.SeverityLow
	ev.ChangeType = model.ChangeContent
	f.writer.handle(ctx, ev)

	alerts, _ = f.store.ListAlerts(ctx, f.target.ID, "", 0, 0)
	if len(alerts) != 1 {
		t.Errorf("Expected low content change to alert, got %d", len(alerts))
	}
}

func TestBuildTitle_FallsBackToURL(t *testing.T) {
	ev := model.ChangeEvent{
		TargetURL:  "https://nameless.example.com",
		ChangeType: model.ChangeFeature,
	}
	got := buildTitle(ev)
	if got != "Feature change on https://nameless.example.com" {
		t.Errorf("Expected URL fallback in title, got %q", got)
	}
}

func TestBuildMessage_NoSections(t *testing.T) {
	got := buildMessage(model.ChangeEvent{
		ChangeCount:      2,
		ChangePercentage: 4.2,
		Severity:         model.SeverityLow,
		VersionNumber:    3,
	})
	if !strings.Contains(got, "the page") {
		t.Errorf("Expected generic location without sections, got %q", got)
	}
}
