// Package detector runs the capture pipeline: diff the freshly rendered
// document against the target's current version, locate and classify the
// changes, persist the new snapshot and its delta, and publish a change
// event. All per-target state mutation happens under an exclusive per-target
// lock; publication happens after the lock is released, ordered per target
// by a publish ticket handed off before the release.
package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/spyglass/internal/classify"
	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/htmldiff"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/section"
	"github.com/raysh454/spyglass/internal/store"
)

// ErrTargetLocked means a capture for the same target is already running.
// Manual callers see it immediately; the scheduler silently skips.
var ErrTargetLocked = errors.New("a capture for this target is already in progress")

// Config carries the detector knobs.
type Config struct {
	// NoChangeEpsilon: a capture with zero records and a change percentage
	// below this is a no-op.
	NoChangeEpsilon float64
}

// Detector is the capture orchestrator. Safe for concurrent use; captures for
// different targets run in parallel, captures for the same target never do.
type Detector struct {
	store      *store.Store
	differ     *htmldiff.Differ
	locator    *section.Locator
	classifier *classify.Classifier
	bus        *eventbus.Bus
	cfg        Config
	logger     logging.Logger
	locks      *lockMap
}

// New wires a Detector. Store, differ and bus are required.
func New(st *store.Store, differ *htmldiff.Differ, locator *section.Locator,
	classifier *classify.Classifier, bus *eventbus.Bus, cfg Config, logger logging.Logger) (*Detector, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if differ == nil {
		return nil, fmt.Errorf("differ is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if locator == nil {
		locator = section.NewLocator(logger)
	}
	if classifier == nil {
		classifier = classify.New(logger)
	}
	if cfg.NoChangeEpsilon <= 0 {
		cfg.NoChangeEpsilon = 0.01
	}
	return &Detector{
		store:      st,
		differ:     differ,
		locator:    locator,
		classifier: classifier,
		bus:        bus,
		cfg:        cfg,
		logger:     logging.OrNop(logger).With(logging.F("component", "detector")),
		locks:      newLockMap(),
	}, nil
}

// CaptureResult is the outcome of one capture.
type CaptureResult struct {
	Target   *model.Target       `json:"target"`
	Snapshot *model.Snapshot     `json:"snapshot,omitempty"`
	Diff     *model.SnapshotDiff `json:"diff,omitempty"`

	// NoChange: the document matched the current version; nothing was written
	// except last_checked_at.
	NoChange bool `json:"no_change"`

	// Initial: this capture created version 1.
	Initial bool `json:"initial"`

	// Truncated: the document exceeded the size cap and was cut.
	Truncated bool `json:"truncated,omitempty"`

	Sections []model.Section `json:"sections,omitempty"`
}

// snapshotMetadata is what goes into the snapshot's metadata JSON column at
// capture time. Enrichment merges into it later.
type snapshotMetadata struct {
	Source    model.CaptureSource `json:"source"`
	Truncated bool                `json:"truncated,omitempty"`
	Sections  []model.Section     `json:"sections,omitempty"`
	Noise     bool                `json:"noise,omitempty"`
}

// Capture runs the pipeline for one (target, html) pair. Two captures with
// byte-identical documents produce at most one snapshot; the second reports
// NoChange. A concurrent capture for the same target fails fast with
// ErrTargetLocked.
func (d *Detector) Capture(ctx context.Context, targetID, html string, source model.CaptureSource) (*CaptureResult, error) {
	lock := d.locks.forTarget(targetID)
	if !lock.capture.TryLock() {
		return nil, ErrTargetLocked
	}

	res, event, err := d.captureLocked(ctx, targetID, html, source)

	// Take the publish ticket before releasing the capture lock: the next
	// capture for this target can start its pipeline immediately, but cannot
	// get its event onto the bus ahead of this one.
	lock.publish.Lock()
	lock.capture.Unlock()
	defer lock.publish.Unlock()

	if err != nil {
		return nil, err
	}
	if event != nil {
		if pubErr := d.bus.Publish(*event); pubErr != nil {
			d.logger.Warn("failed to publish change event",
				logging.F("target_id", targetID), logging.Err(pubErr))
		}
	}
	return res, nil
}

func (d *Detector) captureLocked(ctx context.Context, targetID, html string, source model.CaptureSource) (*CaptureResult, *model.ChangeEvent, error) {
	target, err := d.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}

	current, err := d.store.GetCurrent(ctx, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNoCurrentSnapshot) {
			return d.captureInitial(ctx, target, html, source)
		}
		return nil, nil, err
	}

	before, err := d.store.Reconstruct(ctx, current.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstruct current version %d: %w", current.VersionNumber, err)
	}

	diff := d.differ.Diff(before, html)
	now := time.Now().Unix()

	if diff.ChangeCount == 0 && diff.ChangePercentage < d.cfg.NoChangeEpsilon {
		if err := d.store.MarkChecked(ctx, targetID, now); err != nil {
			return nil, nil, err
		}
		d.logger.Debug("no change detected",
			logging.F("target_id", targetID), logging.F("version", current.VersionNumber))
		return &CaptureResult{Target: target, NoChange: true, Truncated: diff.Truncated}, nil, nil
	}

	doc, parseErr := section.ParseDocument(diff.NormalizedAfter)
	if parseErr != nil {
		// Tolerant pipeline: classification degrades, the capture proceeds.
		d.logger.Warn("failed to parse document for section location",
			logging.F("target_id", targetID), logging.Err(parseErr))
		doc = nil
	}
	sections := d.locator.LocateAll(diff.Records, doc)

	verdict := d.classifier.Classify(classify.Input{
		Records:          diff.Records,
		ChangeCount:      diff.ChangeCount,
		ChangePercentage: diff.ChangePercentage,
		Sections:         sections,
	})

	metadata, err := json.Marshal(snapshotMetadata{
		Source:    source,
		Truncated: diff.Truncated,
		Sections:  sections,
		Noise:     verdict.Noise,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot metadata: %w", err)
	}

	snap, snapDiff, err := d.store.AppendChange(ctx, targetID, diff.NormalizedAfter, store.AppendStats{
		Payload: model.DiffPayload{
			Records:      diff.Records,
			Delta:        diff.Delta,
			AddedChars:   diff.AddedChars,
			RemovedChars: diff.RemovedChars,
		},
		ChangeCount:      diff.ChangeCount,
		ChangePercentage: diff.ChangePercentage,
		Severity:         verdict.Severity,
		ChangeType:       verdict.ChangeType,
		Summary:          verdict.Summary,
		Metadata:         string(metadata),
	})
	if err != nil {
		return nil, nil, err
	}

	if err := d.store.BumpVersionStats(ctx, targetID, now); err != nil {
		return nil, nil, err
	}

	d.logger.Info("change captured",
		logging.F("target_id", targetID),
		logging.F("version", snap.VersionNumber),
		logging.F("change_type", string(verdict.ChangeType)),
		logging.F("severity", string(verdict.Severity)),
		logging.F("changes", diff.ChangeCount))

	event := &model.ChangeEvent{
		TargetID:         target.ID,
		TargetName:       target.Name,
		TargetURL:        target.URL,
		SnapshotID:       snap.ID,
		VersionNumber:    snap.VersionNumber,
		ChangeCount:      snap.ChangeCount,
		ChangePercentage: snap.ChangePercentage,
		Severity:         snap.Severity,
		ChangeType:       snap.ChangeType,
		Sections:         sections,
		Summary:          snap.Summary,
		Source:           source,
		OccurredAt:       now,
	}
	return &CaptureResult{
		Target:    target,
		Snapshot:  snap,
		Diff:      snapDiff,
		Truncated: diff.Truncated,
		Sections:  sections,
	}, event, nil
}

// captureInitial creates version 1 of the chain and emits the zero-change
// event for it.
func (d *Detector) captureInitial(ctx context.Context, target *model.Target, html string, source model.CaptureSource) (*CaptureResult, *model.ChangeEvent, error) {
	canonical, truncated := d.differ.Canonical(html)
	metadata, err := json.Marshal(snapshotMetadata{Source: source, Truncated: truncated})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot metadata: %w", err)
	}

	snap, err := d.store.AppendInitial(ctx, target.ID, canonical, string(metadata))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().Unix()
	if err := d.store.BumpVersionStats(ctx, target.ID, now); err != nil {
		return nil, nil, err
	}

	event := &model.ChangeEvent{
		TargetID:      target.ID,
		TargetName:    target.Name,
		TargetURL:     target.URL,
		SnapshotID:    snap.ID,
		VersionNumber: snap.VersionNumber,
		Severity:      model.SeverityLow,
		ChangeType:    model.ChangeOther,
		Summary:       snap.Summary,
		Source:        source,
		OccurredAt:    now,
	}
	return &CaptureResult{Target: target, Snapshot: snap, Initial: true, Truncated: truncated}, event, nil
}
