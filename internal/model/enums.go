package model

// Severity buckets a detected change by how urgently a human should look at it.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparisons. Unknown values rank lowest.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns a comparable weight for the severity (higher = more severe).
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ChangeType is the coarse kind of a detected change.
type ChangeType string

const (
	ChangeContent ChangeType = "content"
	ChangeDesign  ChangeType = "design"
	ChangePricing ChangeType = "pricing"
	ChangeFeature ChangeType = "feature"
	ChangeOther   ChangeType = "other"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeContent, ChangeDesign, ChangePricing, ChangeFeature, ChangeOther:
		return true
	}
	return false
}

// SectionType labels the semantic page region a change landed in. The set is
// closed; anything unrecognized falls back to SectionContent.
type SectionType string

const (
	SectionHero         SectionType = "hero"
	SectionPricing      SectionType = "pricing"
	SectionFeatures     SectionType = "features"
	SectionNavigation   SectionType = "navigation"
	SectionHeader       SectionType = "header"
	SectionFooter       SectionType = "footer"
	SectionTestimonials SectionType = "testimonials"
	SectionCTA          SectionType = "cta"
	SectionForm         SectionType = "form"
	SectionAbout        SectionType = "about"
	SectionTeam         SectionType = "team"
	SectionContent      SectionType = "content"
)

// SectionTypes lists every known section type.
func SectionTypes() []SectionType {
	return []SectionType{
		SectionHero, SectionPricing, SectionFeatures, SectionNavigation,
		SectionHeader, SectionFooter, SectionTestimonials, SectionCTA,
		SectionForm, SectionAbout, SectionTeam, SectionContent,
	}
}

// Valid reports whether t is one of the known section types.
func (t SectionType) Valid() bool {
	for _, known := range SectionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// CaptureSource says what triggered a capture.
type CaptureSource string

const (
	SourceScheduled CaptureSource = "scheduled"
	SourceManual    CaptureSource = "manual"
	SourceInitial   CaptureSource = "initial"
)

// AlertStatus is the read-state of an alert row.
type AlertStatus string

const (
	AlertUnread   AlertStatus = "unread"
	AlertRead     AlertStatus = "read"
	AlertArchived AlertStatus = "archived"
)

// Valid reports whether s is one of the known alert statuses.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertUnread, AlertRead, AlertArchived:
		return true
	}
	return false
}

// Priority is a scheduling hint on a target. It does not change correctness,
// only how a UI sorts targets.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}
