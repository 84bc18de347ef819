package model

// Snapshot is one persisted version in a target's chain. Full snapshots carry
// the complete HTML; differential snapshots carry none and are rebuilt by
// replaying diffs forward from the nearest preceding full snapshot.
type Snapshot struct {
	ID            string `json:"id"`
	TargetID      string `json:"target_id"`
	VersionNumber int64  `json:"version_number"`

	IsFull    bool `json:"is_full"`
	IsCurrent bool `json:"is_current"`

	// FullHTML is the stored document for full snapshots; empty otherwise.
	FullHTML string `json:"-"`

	ChangeCount      int        `json:"change_count"`
	ChangePercentage float64    `json:"change_percentage"`
	Severity         Severity   `json:"severity"`
	ChangeType       ChangeType `json:"change_type"`

	// Summary is the short human line shown in lists.
	Summary string `json:"summary,omitempty"`

	// Metadata is a free-form JSON object (truncation flags, enrichment, ...).
	Metadata string `json:"metadata,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// DiffKind tags one side of a change record.
type DiffKind string

const (
	DiffAdded   DiffKind = "added"
	DiffRemoved DiffKind = "removed"
)

// DiffRecord is a single low-level change between two documents.
type DiffRecord struct {
	// Kind is "added" or "removed".
	Kind DiffKind `json:"kind"`

	// Value is the changed text.
	Value string `json:"value"`

	// PathHint is an approximate DOM path ("html>body>div.pricing>p"),
	// empty when the document could not be walked.
	PathHint string `json:"path_hint,omitempty"`
}

// DiffPayload is the structured content of a SnapshotDiff row. Records carry
// the human-readable changes; Delta carries an exact character-level encoding
// used to replay the old document into the new one during reconstruction.
type DiffPayload struct {
	Records      []DiffRecord `json:"records"`
	Delta        string       `json:"delta"`
	AddedChars   int          `json:"added_chars"`
	RemovedChars int          `json:"removed_chars"`
}

// SnapshotDiff links two consecutive snapshots of a target.
type SnapshotDiff struct {
	ID             string `json:"id"`
	FromSnapshotID string `json:"from_snapshot_id"`
	ToSnapshotID   string `json:"to_snapshot_id"`

	// DiffJSON is the serialized DiffPayload.
	DiffJSON string `json:"-"`

	Summary      string `json:"summary,omitempty"`
	AddedChars   int    `json:"added_chars"`
	RemovedChars int    `json:"removed_chars"`

	CreatedAt int64 `json:"created_at"`
}

// Section is a located semantic region with the locator's confidence.
type Section struct {
	Selector   string      `json:"selector"`
	Type       SectionType `json:"type"`
	Confidence float64     `json:"confidence"`
}
