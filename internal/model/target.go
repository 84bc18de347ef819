package model

// Target is a monitored competitor site.
type Target struct {
	// ID is an opaque identifier assigned by the store.
	ID string `json:"id"`

	// UserID is the owning user (empty in single-user deployments).
	UserID string `json:"user_id,omitempty"`

	// URL is the page being monitored.
	URL string `json:"url"`

	// Name is the human label shown in alerts ("Acme pricing page").
	Name string `json:"name"`

	// MonitoringEnabled gates the scheduler; manual captures ignore it.
	MonitoringEnabled bool `json:"monitoring_enabled"`

	// CheckInterval is the scheduled capture period in seconds.
	CheckInterval int64 `json:"check_interval"`

	// Priority is a sorting hint, not a scheduling guarantee.
	Priority Priority `json:"priority"`

	// Deleted marks a soft-deleted target. Soft-deleted targets are invisible
	// to every read path and never scheduled.
	Deleted bool `json:"-"`

	// TotalVersions counts persisted snapshots; monotonic.
	TotalVersions int64 `json:"total_versions"`

	// LastCheckedAt / LastChangeAt are unix seconds; 0 means never.
	LastCheckedAt int64 `json:"last_checked_at,omitempty"`
	LastChangeAt  int64 `json:"last_change_at,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// NextCaptureAt returns the unix second the scheduler should next capture
// this target, or 0 when it has never been checked (due immediately).
func (t *Target) NextCaptureAt() int64 {
	if t.LastCheckedAt == 0 {
		return 0
	}
	return t.LastCheckedAt + t.CheckInterval
}

// DueAt reports whether the target is due for a scheduled capture at now
// (unix seconds). Disabled and deleted targets are never due.
func (t *Target) DueAt(now int64) bool {
	if !t.MonitoringEnabled || t.Deleted {
		return false
	}
	return t.NextCaptureAt() <= now
}
