// Package classify turns aggregate diff stats plus located sections into a
// change type and a severity.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
	"github.com/raysh454/spyglass/internal/section"
)

// Severity ladder thresholds.
const (
	criticalPercentage = 30.0
	highPercentage     = 20.0
	mediumPercentage   = 10.0
	mediumChangeCount  = 10

	// noiseConfidence: below this accumulated section confidence a capture is
	// technical noise.
	noiseConfidence = 0.5

	// criticalPriceMove: a relative price move at or beyond this makes the
	// pricing delta critical on its own.
	criticalPriceMove = 0.5
)

// Input is everything the classifier looks at.
type Input struct {
	Records          []model.DiffRecord
	ChangeCount      int
	ChangePercentage float64

	// Sections from the locator, best first.
	Sections []model.Section
}

// Classification is the classifier verdict.
type Classification struct {
	ChangeType model.ChangeType
	Severity   model.Severity

	// Dominant is the best-ranked located section, nil when nothing was
	// located.
	Dominant *model.Section

	// Noise means no semantic section reached the confidence floor; severity
	// is capped at low and the type forced to other.
	Noise bool

	// PricingDelta means the capture touched prices: currency-plus-number
	// signals in the change records themselves, or a confidently located
	// pricing section. The section path matters because the differ isolates
	// a price edit like $29 -> $19 to the bare digits, which carry no
	// currency marker of their own.
	PricingDelta bool

	// Summary is a one-line human description.
	Summary string
}

// Classifier is stateless; one instance serves all targets.
type Classifier struct {
	logger logging.Logger
}

// New creates a Classifier.
func New(logger logging.Logger) *Classifier {
	return &Classifier{logger: logging.OrNop(logger)}
}

var numberRe = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

// Classify derives the change type and severity for one capture.
//
// Type resolution: a pricing signal anywhere wins outright; otherwise pure
// technical churn maps to other; otherwise the dominant section's type.
// Severity: the percentage/count ladder, with a pricing floor of medium, a
// critical escalation on large price moves, and a low cap on noise.
func (c *Classifier) Classify(in Input) Classification {
	out := Classification{
		ChangeType: model.ChangeOther,
		Severity:   model.SeverityLow,
	}

	if len(in.Sections) > 0 {
		dom := in.Sections[0]
		out.Dominant = &dom
	}
	out.PricingDelta = hasPricingDelta(in.Records) || hasPricingSection(in.Sections)
	out.Noise = maxConfidence(in.Sections) < noiseConfidence

	switch {
	case out.PricingDelta:
		out.ChangeType = model.ChangePricing
	case out.Noise || allTechnical(in.Records):
		out.ChangeType = model.ChangeOther
	case out.Dominant != nil:
		out.ChangeType = typeForSection(out.Dominant.Type)
	}

	out.Severity = c.severity(in, out)
	out.Summary = summarize(in, out)
	return out
}

func (c *Classifier) severity(in Input, out Classification) model.Severity {
	var sev model.Severity
	switch {
	case in.ChangePercentage > criticalPercentage:
		sev = model.SeverityCritical
	case in.ChangePercentage > highPercentage:
		sev = model.SeverityHigh
	case in.ChangePercentage > mediumPercentage || in.ChangeCount > mediumChangeCount:
		sev = model.SeverityMedium
	default:
		sev = model.SeverityLow
	}

	if out.PricingDelta {
		// A price change is never a shrug: floor at medium, escalate to
		// critical when the price itself moved hard.
		sev = model.MaxSeverity(sev, model.SeverityMedium)
		if ratio, ok := priceMoveRatio(in.Records); ok && ratio >= criticalPriceMove {
			sev = model.SeverityCritical
		}
		return sev
	}

	if out.Noise {
		return model.SeverityLow
	}
	return sev
}

func hasPricingDelta(records []model.DiffRecord) bool {
	for _, rec := range records {
		if section.PricingSignal(rec.Value) {
			return true
		}
	}
	return false
}

// hasPricingSection reports whether the locator placed the change in a
// pricing region above the noise floor.
func hasPricingSection(sections []model.Section) bool {
	for _, s := range sections {
		if s.Type == model.SectionPricing && s.Confidence >= noiseConfidence {
			return true
		}
	}
	return false
}

func maxConfidence(sections []model.Section) float64 {
	max := 0.0
	for _, s := range sections {
		if s.Confidence > max {
			max = s.Confidence
		}
	}
	return max
}

// priceMoveRatio extracts the first number from a removed pricing value and
// an added pricing value and returns |new-old|/old.
func priceMoveRatio(records []model.DiffRecord) (float64, bool) {
	var oldPrice, newPrice float64
	var haveOld, haveNew bool
	for _, rec := range records {
		if !section.PricingSignal(rec.Value) {
			continue
		}
		n, ok := firstNumber(rec.Value)
		if !ok {
			continue
		}
		switch rec.Kind {
		case model.DiffRemoved:
			if !haveOld {
				oldPrice, haveOld = n, true
			}
		case model.DiffAdded:
			if !haveNew {
				newPrice, haveNew = n, true
			}
		}
	}
	if !haveOld || !haveNew || oldPrice <= 0 {
		return 0, false
	}
	diff := newPrice - oldPrice
	if diff < 0 {
		diff = -diff
	}
	return diff / oldPrice, true
}

func firstNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.ReplaceAll(m, ",", ".")
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// allTechnical reports whether every record value reads like an identifier,
// hash or attribute token rather than prose.
func allTechnical(records []model.DiffRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, rec := range records {
		if !looksTechnical(rec.Value) {
			return false
		}
	}
	return true
}

// looksTechnical: one token, no spaces, identifier charset, with a digit or
// hash-like length. "a3f9c2e1b4" yes; "Now $19/month" no.
func looksTechnical(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || len(v) < 8 || strings.ContainsAny(v, " \t\n") {
		return false
	}
	hasDigit := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case r == '_' || r == '-' || r == '+' || r == '/' || r == '=' || r == '"' || r == '\'':
		default:
			return false
		}
	}
	return hasDigit || len(v) >= 16
}

// typeForSection maps a located section type onto the coarse change type.
func typeForSection(t model.SectionType) model.ChangeType {
	switch t {
	case model.SectionPricing:
		return model.ChangePricing
	case model.SectionFeatures:
		return model.ChangeFeature
	case model.SectionNavigation, model.SectionHeader, model.SectionFooter:
		return model.ChangeDesign
	default:
		return model.ChangeContent
	}
}

func summarize(in Input, out Classification) string {
	if out.Noise && !out.PricingDelta {
		return fmt.Sprintf("technical changes only: %d changes (%.2f%%)",
			in.ChangeCount, in.ChangePercentage)
	}
	if out.Dominant != nil {
		return fmt.Sprintf("%s change in %s: %d changes (%.2f%%)",
			out.ChangeType, out.Dominant.Selector, in.ChangeCount, in.ChangePercentage)
	}
	return fmt.Sprintf("%s change: %d changes (%.2f%%)",
		out.ChangeType, in.ChangeCount, in.ChangePercentage)
}
