package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

const alertColumns = `id, target_id, snapshot_id, title, message, alert_type,
	severity, change_count, version_number, status, created_at`

// InsertAlert writes an alert row. (target_id, snapshot_id) is unique, so a
// duplicate delivery of the same change event is silently ignored; the return
// value reports whether a row was actually created.
func (s *Store) InsertAlert(ctx context.Context, a *model.Alert) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = model.AlertUnread
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts
		     (id, target_id, snapshot_id, title, message, alert_type,
		      severity, change_count, version_number, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TargetID, a.SnapshotID, a.Title, nullableString(a.Message),
		string(a.Type), string(a.Severity), a.ChangeCount, a.VersionNumber,
		string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return false, storageErr("insert alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert alert rows", err)
	}
	if n == 0 {
		s.logger.Debug("duplicate alert ignored",
			logging.F("target_id", a.TargetID), logging.F("snapshot_id", a.SnapshotID))
		return false, nil
	}
	return true, nil
}

func scanAlert(row interface{ Scan(...any) error }) (*model.Alert, error) {
	var a model.Alert
	var message sql.NullString
	var alertType, severity, status string
	err := row.Scan(&a.ID, &a.TargetID, &a.SnapshotID, &a.Title, &message,
		&alertType, &severity, &a.ChangeCount, &a.VersionNumber, &status, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Message = message.String
	a.Type = model.ChangeType(alertType)
	a.Severity = model.Severity(severity)
	a.Status = model.AlertStatus(status)
	return &a, nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = ? LIMIT 1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAlertNotFound
		}
		return nil, storageErr("get alert", err)
	}
	return a, nil
}

// ListAlerts returns alerts newest first, optionally filtered by target and
// status. Alerts of soft-deleted targets never show up.
func (s *Store) ListAlerts(ctx context.Context, targetID string, status model.AlertStatus, limit, offset int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + prefixColumns("a", alertColumns) + `
		 FROM alerts a
		 JOIN targets t ON t.id = a.target_id
		 WHERE t.deleted = 0`
	args := []any{}
	if targetID != "" {
		query += ` AND a.target_id = ?`
		args = append(args, targetID)
	}
	if status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY a.created_at DESC, a.id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storageErr("scan alert", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAlertStatus moves an alert between unread, read and archived.
func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status model.AlertStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return storageErr("update alert status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update alert status rows", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}
