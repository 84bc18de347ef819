// Package alerts materializes change events into alert rows. Deliveries are
// at-least-once, so the writer is idempotent: (target_id, snapshot_id) is
// unique and a repeated event collapses into the existing alert.
package alerts

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/store"
)

// Writer subscribes to the event bus and writes alert rows.
type Writer struct {
	store  *store.Store
	logger logging.Logger

	written    atomic.Int64
	duplicates atomic.Int64
}

// NewWriter creates a Writer.
func NewWriter(st *store.Store, logger logging.Logger) (*Writer, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Writer{
		store:  st,
		logger: logging.OrNop(logger).With(logging.F("component", "alerts")),
	}, nil
}

// Run consumes the subscription until its channel closes or ctx is cancelled.
func (w *Writer) Run(ctx context.Context, sub *eventbus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Writer) handle(ctx context.Context, ev model.ChangeEvent) {
	// Initial captures and no-op events never alert.
	if ev.ChangeCount <= 0 {
		return
	}
	// Technical noise produces a snapshot but stays out of the inbox.
	if ev.Severity == model.SeverityLow && ev.ChangeType == model.ChangeOther {
		return
	}

	alert := &model.Alert{
		TargetID:      ev.TargetID,
		SnapshotID:    ev.SnapshotID,
		Title:         buildTitle(ev),
		Message:       buildMessage(ev),
		Type:          ev.ChangeType,
		Severity:      ev.Severity,
		ChangeCount:   ev.ChangeCount,
		VersionNumber: ev.VersionNumber,
		Status:        model.AlertUnread,
	}

	created, err := w.store.InsertAlert(ctx, alert)
	if err != nil {
		w.logger.Error("failed to write alert",
			logging.F("target_id", ev.TargetID),
			logging.F("snapshot_id", ev.SnapshotID),
			logging.Err(err))
		return
	}
	if !created {
		w.duplicates.Add(1)
		return
	}
	w.written.Add(1)
	w.logger.Info("alert created",
		logging.F("target_id", ev.TargetID),
		logging.F("severity", string(ev.Severity)),
		logging.F("version", ev.VersionNumber))
}

func buildTitle(ev model.ChangeEvent) string {
	name := ev.TargetName
	if name == "" {
		name = ev.TargetURL
	}
	switch ev.ChangeType {
	case model.ChangePricing:
		return fmt.Sprintf("Pricing change on %s", name)
	case model.ChangeFeature:
		return fmt.Sprintf("Feature change on %s", name)
	case model.ChangeDesign:
		return fmt.Sprintf("Design change on %s", name)
	case model.ChangeContent:
		return fmt.Sprintf("Content change on %s", name)
	default:
		return fmt.Sprintf("Change detected on %s", name)
	}
}

func buildMessage(ev model.ChangeEvent) string {
	where := "the page"
	if len(ev.Sections) > 0 {
		where = fmt.Sprintf("%s (%s)", ev.Sections[0].Selector, ev.Sections[0].Type)
	}
	return fmt.Sprintf("%d change(s) in %s, severity %s (v%d, %.2f%% of the page)",
		ev.ChangeCount, where, ev.Severity, ev.VersionNumber, ev.ChangePercentage)
}

// Stats reports how many alerts were written and how many deliveries were
// duplicates.
func (w *Writer) Stats() (written, duplicates int64) {
	return w.written.Load(), w.duplicates.Load()
}
