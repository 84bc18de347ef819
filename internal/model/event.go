package model

// ChangeEvent is the in-memory message the detector publishes for every
// capture that produced a snapshot. It is not persisted; subscribers that
// need durability key on SnapshotID.
type ChangeEvent struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name,omitempty"`
	TargetURL  string `json:"target_url,omitempty"`

	SnapshotID    string `json:"snapshot_id"`
	VersionNumber int64  `json:"version_number"`

	ChangeCount      int        `json:"change_count"`
	ChangePercentage float64    `json:"change_percentage"`
	Severity         Severity   `json:"severity"`
	ChangeType       ChangeType `json:"change_type"`

	// Sections are the semantic regions the change touched, most confident
	// first.
	Sections []Section `json:"sections,omitempty"`

	// Summary mirrors the snapshot summary line.
	Summary string `json:"summary,omitempty"`

	Source     CaptureSource `json:"source"`
	OccurredAt int64         `json:"occurred_at"`
}
