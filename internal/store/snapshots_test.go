package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raysh454/spyglass/internal/htmldiff"
	"github.com/raysh454/spyglass/internal/model"
)

// appendVersion diffs the chain's current stored document against next and
// appends the result, the way the detector does. Returns the new snapshot.
func appendVersion(t *testing.T, st *Store, targetID, next string, severity model.Severity) *model.Snapshot {
	t.Helper()
	ctx := context.Background()

	current, err := st.GetCurrent(ctx, targetID)
	if err != nil {
		t.Fatalf("GetCurrent failed: %v", err)
	}
	stored, err := st.Reconstruct(ctx, current.ID)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}

	res := htmldiff.New(0, nil).Diff(stored, next)
	snap, _, err := st.AppendChange(ctx, targetID, res.NormalizedAfter, AppendStats{
		Payload: model.DiffPayload{
			Records:      res.Records,
			Delta:        res.Delta,
			AddedChars:   res.AddedChars,
			RemovedChars: res.RemovedChars,
		},
		ChangeCount:      res.ChangeCount,
		ChangePercentage: res.ChangePercentage,
		Severity:         severity,
		ChangeType:       model.ChangeContent,
		Summary:          "test change",
	})
	if err != nil {
		t.Fatalf("AppendChange failed: %v", err)
	}
	return snap
}

func TestAppendInitial(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	snap, err := st.AppendInitial(ctx, target.ID, "<p>hello</p>", `{"title":"Home"}`)
	if err != nil {
		t.Fatalf("AppendInitial failed: %v", err)
	}
	if snap.VersionNumber != 1 {
		t.Errorf("Expected version 1, got %d", snap.VersionNumber)
	}
	if !snap.IsFull || !snap.IsCurrent {
		t.Errorf("Expected full current snapshot, got full=%v current=%v",
			snap.IsFull, snap.IsCurrent)
	}
	if snap.Summary != "initial snapshot" {
		t.Errorf("Expected initial summary, got %q", snap.Summary)
	}

	// Second init on the same chain is rejected.
	if _, err := st.AppendInitial(ctx, target.ID, "<p>again</p>", ""); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}

	// Unknown target.
	if _, err := st.AppendInitial(ctx, "missing", "<p>x</p>", ""); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("Expected ErrTargetNotFound, got %v", err)
	}
}

func TestAppendChange_RequiresChain(t *testing.T) {
	st := newTestStore(t)
	target := createTestTarget(t, st, "https://example.com")

	_, _, err := st.AppendChange(context.Background(), target.ID, "<p>v2</p>", AppendStats{})
	if !errors.Is(err, ErrNoCurrentSnapshot) {
		t.Errorf("Expected ErrNoCurrentSnapshot, got %v", err)
	}
}

func TestAppendChange_ChainBookkeeping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	if _, err := st.AppendInitial(ctx, target.ID, "<p>version one</p>", ""); err != nil {
		t.Fatal(err)
	}
	snap := appendVersion(t, st, target.ID, "<p>version two</p>", model.SeverityLow)

	if snap.VersionNumber != 2 {
		t.Errorf("Expected version 2, got %d", snap.VersionNumber)
	}
	if !snap.IsCurrent {
		t.Error("Expected new snapshot to be current")
	}

	// The previous current flag is cleared.
	snaps, err := st.ListSnapshots(ctx, target.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].VersionNumber != 2 {
		t.Errorf("Expected newest first, got version %d", snaps[0].VersionNumber)
	}
	currents := 0
	for _, s := range snaps {
		if s.IsCurrent {
			currents++
		}
	}
	if currents != 1 {
		t.Errorf("Expected exactly one current snapshot, got %d", currents)
	}

	// The diff row points from version 1 into version 2.
	diff, err := st.GetDiffInto(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetDiffInto failed: %v", err)
	}
	if diff.FromSnapshotID != snaps[1].ID || diff.ToSnapshotID != snap.ID {
		t.Errorf("Expected diff %s -> %s, got %s -> %s",
			snaps[1].ID, snap.ID, diff.FromSnapshotID, diff.ToSnapshotID)
	}
}

func TestAppendChange_PeriodicFullPolicy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	// Large body with a tiny per-version edit, so the diff-ratio rule stays
	// quiet and only the periodic rule decides.
	filler := strings.Repeat("lorem ipsum dolor sit amet consectetur adipiscing ", 80)
	page := func(v int) string {
		return fmt.Sprintf("<p>%s revision %d</p>", filler, v)
	}

	if _, err := st.AppendInitial(ctx, target.ID, htmldiff.Normalize(page(1)), ""); err != nil {
		t.Fatal(err)
	}
	for v := 2; v <= 7; v++ {
		appendVersion(t, st, target.ID, page(v), model.SeverityLow)
	}

	snaps, err := st.ListSnapshots(ctx, target.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	fullByVersion := map[int64]bool{}
	for _, s := range snaps {
		fullByVersion[s.VersionNumber] = s.IsFull
	}

	// With the default period of 5, versions 1 and 6 are full.
	for v := int64(1); v <= 7; v++ {
		wantFull := v == 1 || v == 6
		if fullByVersion[v] != wantFull {
			t.Errorf("Version %d: expected full=%v, got %v", v, wantFull, fullByVersion[v])
		}
	}
}

func TestAppendChange_CriticalForcesFull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	if _, err := st.AppendInitial(ctx, target.ID, "<p>price is $29</p>", ""); err != nil {
		t.Fatal(err)
	}
	snap := appendVersion(t, st, target.ID, "<p>price is $59</p>", model.SeverityCritical)

	if !snap.IsFull {
		t.Error("Expected critical change to be stored full")
	}
}

func TestAppendChange_DiffRatioForcesFull(t *testing.T) {
	// A tiny ratio and a long period so only the ratio rule can trigger.
	st, err := New(Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		FullPeriod:      100,
		FullIfDiffRatio: 0.01,
	}, nil)
	if err != nil {
		t.Fatalf("New store failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")
	if _, err := st.AppendInitial(ctx, target.ID, "<p>short</p>", ""); err != nil {
		t.Fatal(err)
	}

	snap := appendVersion(t, st, target.ID, "<p>short but reworded</p>", model.SeverityLow)
	if !snap.IsFull {
		t.Error("Expected accumulated diff size to force a full snapshot")
	}
}

func TestReconstruct_DifferentialChain(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	// Large shared body so versions 2-4 are stored as differentials and
	// reconstruction actually replays the chain.
	filler := strings.Repeat("feature copy and marketing prose repeated for bulk ", 80)
	versions := []string{
		"<div><p>" + filler + "</p><p>Basic is $29/month</p></div>",
		"<div><p>" + filler + "</p><p>Basic is $39/month</p></div>",
		"<div><p>" + filler + "</p><p>Basic is $39/month</p><p>Pro is $99/month</p></div>",
		"<div><p>" + filler + "</p><p>Basic is $49/month</p><p>Pro is $99/month</p></div>",
	}

	first, err := st.AppendInitial(ctx, target.ID, htmldiff.Normalize(versions[0]), "")
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{first.ID}
	for _, v := range versions[1:] {
		ids = append(ids, appendVersion(t, st, target.ID, v, model.SeverityLow).ID)
	}

	// The later versions must actually be differentials, otherwise this
	// exercises nothing.
	snaps, err := st.ListSnapshots(ctx, target.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range snaps {
		if s.VersionNumber > 1 && s.IsFull {
			t.Fatalf("Expected version %d to be differential", s.VersionNumber)
		}
	}

	for i, id := range ids {
		got, err := st.Reconstruct(ctx, id)
		if err != nil {
			t.Fatalf("Reconstruct version %d failed: %v", i+1, err)
		}
		if want := htmldiff.Normalize(versions[i]); got != want {
			t.Errorf("Version %d: expected %q, got %q", i+1, want, got)
		}
	}
}

func TestReconstruct_NotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.Reconstruct(context.Background(), "missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestListChanges_ExcludesInitial(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")

	if _, err := st.AppendInitial(ctx, target.ID, "<p>v1 text</p>", ""); err != nil {
		t.Fatal(err)
	}
	appendVersion(t, st, target.ID, "<p>v2 text</p>", model.SeverityLow)

	changes, err := st.ListChanges(ctx, target.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("Expected 1 change (initial excluded), got %d", len(changes))
	}
	if changes[0].VersionNumber != 2 {
		t.Errorf("Expected version 2, got %d", changes[0].VersionNumber)
	}

	// Changes of a soft-deleted target disappear from the feed.
	if err := st.SoftDeleteTarget(ctx, target.ID); err != nil {
		t.Fatal(err)
	}
	changes, err = st.ListChanges(ctx, "", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("Expected no changes after target delete, got %d", len(changes))
	}
}

func TestUpdateSnapshotEnrichment(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	target := createTestTarget(t, st, "https://example.com")
	snap, err := st.AppendInitial(ctx, target.ID, "<p>v1</p>", "")
	if err != nil {
		t.Fatal(err)
	}

	// Valid refined severity updates both fields.
	if err := st.UpdateSnapshotEnrichment(ctx, snap.ID, `{"insight":"x"}`, model.SeverityHigh); err != nil {
		t.Fatalf("UpdateSnapshotEnrichment failed: %v", err)
	}
	got, err := st.GetSnapshot(ctx, snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Severity != model.SeverityHigh {
		t.Errorf("Expected refined severity high, got %s", got.Severity)
	}
	if got.Metadata != `{"insight":"x"}` {
		t.Errorf("Expected metadata replaced, got %q", got.Metadata)
	}

	// Invalid severity leaves the stored one alone.
	if err := st.UpdateSnapshotEnrichment(ctx, snap.ID, `{"insight":"y"}`, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = st.GetSnapshot(ctx, snap.ID)
	if got.Severity != model.SeverityHigh {
		t.Errorf("Expected severity untouched, got %s", got.Severity)
	}

	if err := st.UpdateSnapshotEnrichment(ctx, "missing", "{}", ""); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}
}
