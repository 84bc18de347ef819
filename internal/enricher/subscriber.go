package enricher

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/raysh454/spyglass/internal/eventbus"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/store"
	"github.com/raysh454/spyglass/internal/utils"
)

// excerptLen bounds the before/after text sent per section.
const excerptLen = 200

// Subscriber consumes change events and enriches the snapshots behind them.
type Subscriber struct {
	client *Client
	store  *store.Store
	logger logging.Logger

	enriched atomic.Int64
	failures atomic.Int64
}

// NewSubscriber wires the enrichment consumer.
func NewSubscriber(client *Client, st *store.Store, logger logging.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		store:  st,
		logger: logging.OrNop(logger).With(logging.F("component", "enricher")),
	}
}

// Run consumes the subscription until its channel closes or ctx is
// cancelled. Enrichment failures are recorded on the snapshot and never
// propagate.
func (s *Subscriber) Run(ctx context.Context, sub *eventbus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, ev model.ChangeEvent) {
	// Initial versions and pure technical churn are not worth a model call.
	if ev.ChangeCount == 0 {
		return
	}
	if ev.Severity == model.SeverityLow && ev.ChangeType == model.ChangeOther {
		return
	}

	packet := s.buildPacket(ctx, ev)
	enr, err := s.client.Enrich(ctx, packet)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("enrichment failed",
			logging.F("snapshot_id", ev.SnapshotID), logging.Err(err))
		s.recordFailure(ctx, ev.SnapshotID, err)
		return
	}

	if err := s.persist(ctx, ev, enr); err != nil {
		s.failures.Add(1)
		s.logger.Warn("failed to persist enrichment",
			logging.F("snapshot_id", ev.SnapshotID), logging.Err(err))
		return
	}
	s.enriched.Add(1)
	s.logger.Debug("snapshot enriched", logging.F("snapshot_id", ev.SnapshotID))
}

// buildPacket assembles the change description, pulling short before/after
// excerpts from the stored diff records.
func (s *Subscriber) buildPacket(ctx context.Context, ev model.ChangeEvent) Packet {
	packet := Packet{
		TargetName: ev.TargetName,
		TargetURL:  ev.TargetURL,
		ChangeType: string(ev.ChangeType),
		Severity:   string(ev.Severity),
		Summary:    ev.Summary,
		Percentage: ev.ChangePercentage,
	}

	var removed, added string
	if diff, err := s.store.GetDiffInto(ctx, ev.SnapshotID); err == nil {
		var payload model.DiffPayload
		if err := json.Unmarshal([]byte(diff.DiffJSON), &payload); err == nil {
			for _, rec := range payload.Records {
				switch rec.Kind {
				case model.DiffRemoved:
					if removed == "" {
						removed = utils.Truncate(rec.Value, excerptLen)
					}
				case model.DiffAdded:
					if added == "" {
						added = utils.Truncate(rec.Value, excerptLen)
					}
				}
			}
		}
	}

	for _, sec := range ev.Sections {
		packet.Sections = append(packet.Sections, PacketSection{
			Selector:   sec.Selector,
			Type:       string(sec.Type),
			Confidence: sec.Confidence,
			Before:     removed,
			After:      added,
		})
	}
	return packet
}

// persist merges the enrichment into the snapshot metadata. Capture-time
// facts already in the metadata are kept; only the enrichment key is set.
func (s *Subscriber) persist(ctx context.Context, ev model.ChangeEvent, enr *Enrichment) error {
	merged, err := s.mergeMetadata(ctx, ev.SnapshotID, "enrichment", enr)
	if err != nil {
		return err
	}

	// The model may only raise severity, never lower what the classifier saw.
	refined := severityForUrgency(enr.Urgency)
	if refined.Rank() <= ev.Severity.Rank() {
		refined = ""
	}
	return s.store.UpdateSnapshotEnrichment(ctx, ev.SnapshotID, merged, refined)
}

func (s *Subscriber) recordFailure(ctx context.Context, snapshotID string, failure error) {
	merged, err := s.mergeMetadata(ctx, snapshotID, "enrichment_error", failure.Error())
	if err != nil {
		s.logger.Warn("failed to record enrichment error",
			logging.F("snapshot_id", snapshotID), logging.Err(err))
		return
	}
	if err := s.store.UpdateSnapshotEnrichment(ctx, snapshotID, merged, ""); err != nil {
		s.logger.Warn("failed to record enrichment error",
			logging.F("snapshot_id", snapshotID), logging.Err(err))
	}
}

// mergeMetadata loads the snapshot's metadata object and sets one key.
func (s *Subscriber) mergeMetadata(ctx context.Context, snapshotID, key string, value any) (string, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return "", err
	}
	meta := map[string]any{}
	if snap.Metadata != "" {
		if err := json.Unmarshal([]byte(snap.Metadata), &meta); err != nil {
			// Unreadable metadata is replaced rather than lost silently.
			meta = map[string]any{"previous_metadata": snap.Metadata}
		}
	}
	meta[key] = value
	out, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func severityForUrgency(urgency string) model.Severity {
	switch urgency {
	case "medium":
		return model.SeverityMedium
	case "high":
		return model.SeverityHigh
	default:
		return ""
	}
}

// Stats reports enrichment counters.
func (s *Subscriber) Stats() (enriched, failures int64) {
	return s.enriched.Load(), s.failures.Load()
}
