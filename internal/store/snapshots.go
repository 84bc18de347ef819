package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/spyglass/internal/htmldiff"
	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

// AppendStats carries the detector's verdict for a non-initial append.
type AppendStats struct {
	Payload          model.DiffPayload
	ChangeCount      int
	ChangePercentage float64
	Severity         model.Severity
	ChangeType       model.ChangeType
	Summary          string
	Metadata         string
}

const snapshotColumns = `id, target_id, version_number, is_full, is_current,
	change_count, change_percentage, severity, change_type, summary, metadata, created_at`

// AppendInitial creates version 1 of a target's chain: full, current, zero
// change metrics. Fails with ErrAlreadyInitialized when a chain exists.
func (s *Store) AppendInitial(ctx context.Context, targetID, html, metadata string) (*model.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin append initial", err)
	}
	defer s.rollback(tx)

	if err := s.targetExists(ctx, tx, targetID); err != nil {
		return nil, err
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE target_id = ?`, targetID).Scan(&existing)
	if err != nil {
		return nil, storageErr("count snapshots", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyInitialized
	}

	snap := &model.Snapshot{
		ID:            uuid.New().String(),
		TargetID:      targetID,
		VersionNumber: 1,
		IsFull:        true,
		IsCurrent:     true,
		FullHTML:      html,
		Severity:      model.SeverityLow,
		ChangeType:    model.ChangeOther,
		Summary:       "initial snapshot",
		Metadata:      metadata,
		CreatedAt:     time.Now().Unix(),
	}
	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit append initial", err)
	}
	s.logger.Info("initial snapshot created",
		logging.F("target_id", targetID), logging.F("snapshot_id", snap.ID))
	return snap, nil
}

// AppendChange atomically flips the prior current snapshot, inserts the next
// version and its incoming diff, and applies the storage policy to decide
// full vs differential.
func (s *Store) AppendChange(ctx context.Context, targetID, html string, stats AppendStats) (*model.Snapshot, *model.SnapshotDiff, error) {
	diffJSON, err := json.Marshal(stats.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal diff payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, storageErr("begin append change", err)
	}
	defer s.rollback(tx)

	if err := s.targetExists(ctx, tx, targetID); err != nil {
		return nil, nil, err
	}

	var prevID string
	var prevVersion int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, version_number FROM snapshots WHERE target_id = ? AND is_current = 1 LIMIT 1`,
		targetID).Scan(&prevID, &prevVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrNoCurrentSnapshot
		}
		return nil, nil, storageErr("load current snapshot", err)
	}

	nextVersion := prevVersion + 1
	full, err := s.decideFull(ctx, tx, targetID, nextVersion, stats.Severity, len(diffJSON), len(html))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().Unix()
	snap := &model.Snapshot{
		ID:               uuid.New().String(),
		TargetID:         targetID,
		VersionNumber:    nextVersion,
		IsFull:           full,
		IsCurrent:        true,
		ChangeCount:      stats.ChangeCount,
		ChangePercentage: stats.ChangePercentage,
		Severity:         stats.Severity,
		ChangeType:       stats.ChangeType,
		Summary:          stats.Summary,
		Metadata:         stats.Metadata,
		CreatedAt:        now,
	}
	if full {
		snap.FullHTML = html
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE snapshots SET is_current = 0 WHERE target_id = ? AND is_current = 1`,
		targetID); err != nil {
		return nil, nil, storageErr("clear current flag", err)
	}
	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return nil, nil, err
	}

	diff := &model.SnapshotDiff{
		ID:             uuid.New().String(),
		FromSnapshotID: prevID,
		ToSnapshotID:   snap.ID,
		DiffJSON:       string(diffJSON),
		Summary:        stats.Summary,
		AddedChars:     stats.Payload.AddedChars,
		RemovedChars:   stats.Payload.RemovedChars,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_diffs
		     (id, from_snapshot_id, to_snapshot_id, diff_json, summary, added_chars, removed_chars, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		diff.ID, diff.FromSnapshotID, diff.ToSnapshotID, diff.DiffJSON,
		nullableString(diff.Summary), diff.AddedChars, diff.RemovedChars, diff.CreatedAt,
	); err != nil {
		return nil, nil, storageErr("insert snapshot diff", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storageErr("commit append change", err)
	}
	s.logger.Info("snapshot appended",
		logging.F("target_id", targetID),
		logging.F("version", nextVersion),
		logging.F("is_full", full),
		logging.F("severity", string(stats.Severity)))
	return snap, diff, nil
}

// decideFull applies the storage policy for the snapshot about to be written.
func (s *Store) decideFull(ctx context.Context, tx *sql.Tx, targetID string, version int64, severity model.Severity, newDiffBytes, htmlBytes int) (bool, error) {
	k := int64(s.cfg.FullPeriod)
	if version%k == 1%k {
		return true, nil
	}
	if severity == model.SeverityCritical {
		return true, nil
	}

	var lastFullVersion int64
	err := tx.QueryRowContext(ctx,
		`SELECT version_number FROM snapshots
		 WHERE target_id = ? AND is_full = 1
		 ORDER BY version_number DESC LIMIT 1`,
		targetID).Scan(&lastFullVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			// No full snapshot to chain from; store full.
			return true, nil
		}
		return false, storageErr("find last full snapshot", err)
	}

	var accumulated sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT SUM(LENGTH(d.diff_json))
		 FROM snapshot_diffs d
		 JOIN snapshots sn ON sn.id = d.to_snapshot_id
		 WHERE sn.target_id = ? AND sn.version_number > ?`,
		targetID, lastFullVersion).Scan(&accumulated)
	if err != nil {
		return false, storageErr("sum accumulated diffs", err)
	}

	if float64(accumulated.Int64+int64(newDiffBytes)) > s.cfg.FullIfDiffRatio*float64(htmlBytes) {
		return true, nil
	}
	return false, nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *model.Snapshot) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots
		     (id, target_id, version_number, is_full, is_current, full_html,
		      change_count, change_percentage, severity, change_type, summary, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.TargetID, snap.VersionNumber, boolToInt(snap.IsFull),
		boolToInt(snap.IsCurrent), nullableString(snap.FullHTML),
		snap.ChangeCount, snap.ChangePercentage, string(snap.Severity),
		string(snap.ChangeType), nullableString(snap.Summary),
		nullableString(snap.Metadata), snap.CreatedAt,
	)
	if err != nil {
		return storageErr("insert snapshot", err)
	}
	return nil
}

// targetExists verifies the target is live inside the current transaction.
func (s *Store) targetExists(ctx context.Context, tx *sql.Tx, targetID string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM targets WHERE id = ? AND deleted = 0 LIMIT 1`, targetID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrTargetNotFound
		}
		return storageErr("check target", err)
	}
	return nil
}

func scanSnapshot(row interface{ Scan(...any) error }) (*model.Snapshot, error) {
	var snap model.Snapshot
	var isFull, isCurrent int
	var severity, changeType string
	var summary, metadata sql.NullString
	err := row.Scan(&snap.ID, &snap.TargetID, &snap.VersionNumber, &isFull, &isCurrent,
		&snap.ChangeCount, &snap.ChangePercentage, &severity, &changeType,
		&summary, &metadata, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	snap.IsFull = isFull != 0
	snap.IsCurrent = isCurrent != 0
	snap.Severity = model.Severity(severity)
	snap.ChangeType = model.ChangeType(changeType)
	snap.Summary = summary.String
	snap.Metadata = metadata.String
	return &snap, nil
}

// GetCurrent returns the current snapshot of a target, without its HTML.
func (s *Store) GetCurrent(ctx context.Context, targetID string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE target_id = ? AND is_current = 1 LIMIT 1`, targetID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoCurrentSnapshot
		}
		return nil, storageErr("get current snapshot", err)
	}
	return snap, nil
}

// GetSnapshot returns one snapshot by id, without its HTML.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ? LIMIT 1`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSnapshotNotFound
		}
		return nil, storageErr("get snapshot", err)
	}
	return snap, nil
}

// ListSnapshots pages through a target's chain, newest version first.
func (s *Store) ListSnapshots(ctx context.Context, targetID string, limit, offset int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE target_id = ?
		 ORDER BY version_number DESC LIMIT ? OFFSET ?`,
		targetID, limit, offset)
	if err != nil {
		return nil, storageErr("list snapshots", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr("scan snapshot", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// ListChanges returns snapshots that carried changes (change_count > 0),
// newest first, optionally filtered by target. Soft-deleted targets are
// excluded.
func (s *Store) ListChanges(ctx context.Context, targetID string, limit, offset int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + prefixColumns("sn", snapshotColumns) + `
		 FROM snapshots sn
		 JOIN targets t ON t.id = sn.target_id
		 WHERE t.deleted = 0 AND sn.change_count > 0`
	args := []any{}
	if targetID != "" {
		query += ` AND sn.target_id = ?`
		args = append(args, targetID)
	}
	query += ` ORDER BY sn.created_at DESC, sn.version_number DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list changes", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, storageErr("scan change", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// GetDiffInto returns the diff whose to-side is the given snapshot.
func (s *Store) GetDiffInto(ctx context.Context, toSnapshotID string) (*model.SnapshotDiff, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, from_snapshot_id, to_snapshot_id, diff_json, summary,
		        added_chars, removed_chars, created_at
		 FROM snapshot_diffs WHERE to_snapshot_id = ? LIMIT 1`, toSnapshotID)
	var d model.SnapshotDiff
	var summary sql.NullString
	err := row.Scan(&d.ID, &d.FromSnapshotID, &d.ToSnapshotID, &d.DiffJSON,
		&summary, &d.AddedChars, &d.RemovedChars, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSnapshotNotFound
		}
		return nil, storageErr("get diff", err)
	}
	d.Summary = summary.String
	return &d, nil
}

// Reconstruct returns the exact stored document for a snapshot: directly for
// full snapshots, otherwise by replaying diffs forward from the nearest
// preceding full snapshot.
func (s *Store) Reconstruct(ctx context.Context, snapshotID string) (string, error) {
	var targetID string
	var version int64
	var isFull int
	var fullHTML sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT target_id, version_number, is_full, full_html
		 FROM snapshots WHERE id = ? LIMIT 1`, snapshotID).
		Scan(&targetID, &version, &isFull, &fullHTML)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrSnapshotNotFound
		}
		return "", storageErr("load snapshot for reconstruct", err)
	}
	if isFull != 0 {
		return fullHTML.String, nil
	}

	var baseVersion int64
	var baseHTML sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT version_number, full_html FROM snapshots
		 WHERE target_id = ? AND version_number < ? AND is_full = 1
		 ORDER BY version_number DESC LIMIT 1`,
		targetID, version).Scan(&baseVersion, &baseHTML)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no full snapshot precedes version %d of target %s", version, targetID)
		}
		return "", storageErr("find base snapshot", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.diff_json FROM snapshot_diffs d
		 JOIN snapshots sn ON sn.id = d.to_snapshot_id
		 WHERE sn.target_id = ? AND sn.version_number > ? AND sn.version_number <= ?
		 ORDER BY sn.version_number ASC`,
		targetID, baseVersion, version)
	if err != nil {
		return "", storageErr("load diff chain", err)
	}
	defer rows.Close()

	html := baseHTML.String
	replayed := baseVersion
	for rows.Next() {
		var diffJSON string
		if err := rows.Scan(&diffJSON); err != nil {
			return "", storageErr("scan diff chain", err)
		}
		var payload model.DiffPayload
		if err := json.Unmarshal([]byte(diffJSON), &payload); err != nil {
			return "", fmt.Errorf("decode diff payload for version %d: %w", replayed+1, err)
		}
		html, err = htmldiff.Replay(html, payload.Delta)
		if err != nil {
			return "", fmt.Errorf("replay diff onto version %d: %w", replayed, err)
		}
		replayed++
	}
	if err := rows.Err(); err != nil {
		return "", storageErr("iterate diff chain", err)
	}
	if replayed != version {
		return "", fmt.Errorf("diff chain incomplete: replayed to version %d, wanted %d", replayed, version)
	}
	return html, nil
}

// UpdateSnapshotEnrichment stores enrichment output: replaces metadata and,
// when refined is a valid severity, updates the severity too.
func (s *Store) UpdateSnapshotEnrichment(ctx context.Context, snapshotID, metadata string, refined model.Severity) error {
	var res sql.Result
	var err error
	if refined.Valid() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE snapshots SET metadata = ?, severity = ? WHERE id = ?`,
			nullableString(metadata), string(refined), snapshotID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE snapshots SET metadata = ? WHERE id = ?`,
			nullableString(metadata), snapshotID)
	}
	if err != nil {
		return storageErr("update snapshot enrichment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update snapshot enrichment rows", err)
	}
	if n == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
