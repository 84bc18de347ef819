package model

// Alert is a materialized notification row written by the alert writer.
// (TargetID, SnapshotID) is unique: duplicate event deliveries collapse
// into one alert.
type Alert struct {
	ID         string `json:"id"`
	TargetID   string `json:"target_id"`
	SnapshotID string `json:"snapshot_id"`

	Title   string `json:"title"`
	Message string `json:"message"`

	Type          ChangeType  `json:"type"`
	Severity      Severity    `json:"severity"`
	ChangeCount   int         `json:"change_count"`
	VersionNumber int64       `json:"version_number"`
	Status        AlertStatus `json:"status"`

	CreatedAt int64 `json:"created_at"`
}
