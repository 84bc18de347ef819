package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/spyglass/internal/model"
)

// NewTarget carries the caller-supplied fields for target creation. The URL
// is expected to be normalized already.
type NewTarget struct {
	UserID            string
	URL               string
	Name              string
	CheckInterval     int64
	Priority          model.Priority
	MonitoringEnabled bool
}

const targetColumns = `id, user_id, url, name, monitoring_enabled, check_interval,
	priority, deleted, total_versions, last_checked_at, last_change_at, created_at`

// CreateTarget inserts a target and returns it.
func (s *Store) CreateTarget(ctx context.Context, nt NewTarget) (*model.Target, error) {
	if nt.Priority == "" {
		nt.Priority = model.PriorityNormal
	}
	t := &model.Target{
		ID:                uuid.New().String(),
		UserID:            nt.UserID,
		URL:               nt.URL,
		Name:              nt.Name,
		MonitoringEnabled: nt.MonitoringEnabled,
		CheckInterval:     nt.CheckInterval,
		Priority:          nt.Priority,
		CreatedAt:         time.Now().Unix(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets
		     (id, user_id, url, name, monitoring_enabled, check_interval, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullableString(t.UserID), t.URL, t.Name,
		boolToInt(t.MonitoringEnabled), t.CheckInterval, string(t.Priority), t.CreatedAt,
	)
	if err != nil {
		return nil, storageErr("insert target", err)
	}
	return t, nil
}

func scanTarget(row interface{ Scan(...any) error }) (*model.Target, error) {
	var t model.Target
	var userID sql.NullString
	var monitoring, deleted int
	var lastChecked, lastChange sql.NullInt64
	var priority string
	err := row.Scan(&t.ID, &userID, &t.URL, &t.Name, &monitoring, &t.CheckInterval,
		&priority, &deleted, &t.TotalVersions, &lastChecked, &lastChange, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.UserID = userID.String
	t.MonitoringEnabled = monitoring != 0
	t.Deleted = deleted != 0
	t.Priority = model.Priority(priority)
	t.LastCheckedAt = lastChecked.Int64
	t.LastChangeAt = lastChange.Int64
	return &t, nil
}

// GetTarget returns a live (non-deleted) target by id.
func (s *Store) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE id = ? AND deleted = 0 LIMIT 1`, id)
	t, err := scanTarget(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTargetNotFound
		}
		return nil, storageErr("get target", err)
	}
	return t, nil
}

// ListTargets returns live targets, newest first.
func (s *Store) ListTargets(ctx context.Context) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE deleted = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, storageErr("list targets", err)
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, storageErr("scan target", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ListDueTargets returns live, monitoring-enabled targets whose next capture
// time is at or before now (unix seconds). Never-checked targets are due
// immediately.
func (s *Store) ListDueTargets(ctx context.Context, now int64) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets
		 WHERE deleted = 0 AND monitoring_enabled = 1
		   AND (last_checked_at IS NULL OR last_checked_at + check_interval <= ?)
		 ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END,
		          last_checked_at ASC`,
		now)
	if err != nil {
		return nil, storageErr("list due targets", err)
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, storageErr("scan due target", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTarget persists the mutable settings of a target: name, URL,
// check interval, priority and the monitoring flag.
func (s *Store) UpdateTarget(ctx context.Context, t *model.Target) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets
		 SET name = ?, url = ?, check_interval = ?, priority = ?, monitoring_enabled = ?
		 WHERE id = ? AND deleted = 0`,
		t.Name, t.URL, t.CheckInterval, string(t.Priority),
		boolToInt(t.MonitoringEnabled), t.ID)
	if err != nil {
		return storageErr("update target", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update target rows", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// SetMonitoring flips the monitoring flag; a positive interval also updates
// the check interval in the same statement.
func (s *Store) SetMonitoring(ctx context.Context, id string, enabled bool, interval int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets
		 SET monitoring_enabled = ?,
		     check_interval = CASE WHEN ? > 0 THEN ? ELSE check_interval END
		 WHERE id = ? AND deleted = 0`,
		boolToInt(enabled), interval, interval, id)
	if err != nil {
		return storageErr("set monitoring", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("set monitoring rows", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// SoftDeleteTarget marks a target deleted, stops its monitoring and removes
// its alerts. Snapshot rows stay on disk but become unreachable through
// every read path, which all filter on deleted = 0.
func (s *Store) SoftDeleteTarget(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin soft delete", err)
	}
	defer s.rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE targets SET deleted = 1, monitoring_enabled = 0 WHERE id = ? AND deleted = 0`, id)
	if err != nil {
		return storageErr("soft delete target", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("soft delete rows", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE target_id = ?`, id); err != nil {
		return storageErr("delete target alerts", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit soft delete", err)
	}
	return nil
}

// MarkChecked advances last_checked_at only. Used for no-change captures and
// for renderer failures, where the next normal tick should still be honored.
func (s *Store) MarkChecked(ctx context.Context, id string, checkedAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets SET last_checked_at = ? WHERE id = ? AND deleted = 0`,
		checkedAt, id)
	if err != nil {
		return storageErr("mark checked", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark checked rows", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// BumpVersionStats records a successful capture that produced a snapshot:
// total_versions increments and both timestamps advance.
func (s *Store) BumpVersionStats(ctx context.Context, id string, now int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets
		 SET total_versions = total_versions + 1, last_checked_at = ?, last_change_at = ?
		 WHERE id = ? AND deleted = 0`,
		now, now, id)
	if err != nil {
		return storageErr("bump version stats", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("bump version stats rows", err)
	}
	if n == 0 {
		return ErrTargetNotFound
	}
	return nil
}
