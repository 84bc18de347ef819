package server

import "github.com/raysh454/spyglass/internal/model"

// errorResponse is the uniform failure envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// createTargetRequest is the POST /api/targets body.
type createTargetRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Interval int64  `json:"interval,omitempty"`
	Priority string `json:"priority,omitempty"`

	// Monitoring starts the scheduler on this target immediately.
	Monitoring bool `json:"monitoring,omitempty"`
}

// updateTargetRequest is the PUT /api/targets/{id} body; nil fields are left
// untouched.
type updateTargetRequest struct {
	URL      *string `json:"url,omitempty"`
	Name     *string `json:"name,omitempty"`
	Interval *int64  `json:"interval,omitempty"`
	Priority *string `json:"priority,omitempty"`
}

// captureRequest is the POST /api/targets/{id}/capture body.
type captureRequest struct {
	Options captureOptions `json:"options"`
}

type captureOptions struct {
	// HTML, when set, bypasses the renderer and captures this document.
	HTML string `json:"html,omitempty"`

	// Simulate captures a mutated copy of the current version; useful for
	// demos without a real renderer.
	Simulate bool `json:"simulate,omitempty"`
}

// monitoringRequest is the POST /api/targets/{id}/start-monitoring body.
type monitoringRequest struct {
	Interval int64 `json:"interval,omitempty"`
}

// monitoringStatusResponse mirrors the monitoring-status contract.
type monitoringStatusResponse struct {
	MonitoringEnabled bool   `json:"monitoringEnabled"`
	Status            string `json:"status"`
	LastCheckedAt     int64  `json:"lastCheckedAt,omitempty"`
	NextCapture       int64  `json:"nextCapture,omitempty"`
}

// alertStatusRequest is the PUT /api/alerts/{id} body.
type alertStatusRequest struct {
	Status string `json:"status"`
}

// changeEntry is one item of GET /api/changes: the snapshot plus its
// incoming diff.
type changeEntry struct {
	Snapshot model.Snapshot      `json:"snapshot"`
	Diff     *model.SnapshotDiff `json:"diff,omitempty"`
}
