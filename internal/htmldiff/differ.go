// Package htmldiff computes low-level additions and removals between two
// HTML documents. Output is deterministic: the same pair of inputs always
// yields the same records in the same order.
package htmldiff

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

// maxRecordValue caps the text carried by a single change record. The exact
// change survives in the delta; records are for humans and the classifier.
const maxRecordValue = 512

// Result is the outcome of diffing two documents.
type Result struct {
	// Records are the non-whitespace changes in document order.
	Records []model.DiffRecord

	// AddedChars / RemovedChars count every changed character, whitespace
	// included.
	AddedChars   int
	RemovedChars int

	// ChangeCount is len(Records).
	ChangeCount int

	// ChangePercentage = (added + removed) / max(1, len(before)) * 100,
	// rounded to two decimals and clamped to [0, 100].
	ChangePercentage float64

	// Delta is a compact character-level encoding that replays the
	// normalized before-document into the normalized after-document.
	Delta string

	// NormalizedBefore / NormalizedAfter are the canonical forms that were
	// compared (size-capped, whitespace-collapsed).
	NormalizedBefore string
	NormalizedAfter  string

	// Truncated is set when either input exceeded the size cap.
	Truncated bool
}

// Differ computes structured diffs. Zero I/O; safe for concurrent use.
type Differ struct {
	sizeCap int
	logger  logging.Logger
}

// New creates a Differ. sizeCap bounds input size in bytes; 0 disables the cap.
func New(sizeCap int, logger logging.Logger) *Differ {
	return &Differ{sizeCap: sizeCap, logger: logging.OrNop(logger)}
}

// Normalize returns the canonical comparison form of a document: runs of
// whitespace collapsed to single spaces, ends trimmed. Idempotent and stable.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// capSize cuts s to at most n bytes on a rune boundary.
func capSize(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

// Canonical returns the stored form of a captured document: size-capped on
// the differ's limit, then normalized. The bool reports truncation.
func (d *Differ) Canonical(html string) (string, bool) {
	capped, truncated := capSize(html, d.sizeCap)
	return Normalize(capped), truncated
}

// Diff compares before and after. Malformed HTML never fails: path hints
// degrade to empty and the documents are diffed as opaque text.
func (d *Differ) Diff(before, after string) *Result {
	cappedBefore, truncBefore := capSize(before, d.sizeCap)
	cappedAfter, truncAfter := capSize(after, d.sizeCap)

	res := &Result{
		NormalizedBefore: Normalize(cappedBefore),
		NormalizedAfter:  Normalize(cappedAfter),
		Truncated:        truncBefore || truncAfter,
	}
	if res.Truncated {
		d.logger.Warn("input exceeded size cap, truncated",
			logging.F("cap_bytes", d.sizeCap))
	}

	// Equal canonical forms short-circuit the diff entirely.
	if res.NormalizedBefore == res.NormalizedAfter {
		res.Records = []model.DiffRecord{}
		return res
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(res.NormalizedBefore, res.NormalizedAfter, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	res.Delta = dmp.DiffToDelta(diffs)

	beforePaths := newPathIndex(res.NormalizedBefore)
	afterPaths := newPathIndex(res.NormalizedAfter)

	records := make([]model.DiffRecord, 0, len(diffs))
	beforeOffset, afterOffset := 0, 0
	for _, chunk := range diffs {
		switch chunk.Type {
		case diffmatchpatch.DiffEqual:
			beforeOffset += len(chunk.Text)
			afterOffset += len(chunk.Text)
			continue
		case diffmatchpatch.DiffInsert:
			res.AddedChars += utf8.RuneCountInString(chunk.Text)
			if strings.TrimSpace(chunk.Text) != "" {
				records = append(records, model.DiffRecord{
					Kind:     model.DiffAdded,
					Value:    truncValue(chunk.Text),
					PathHint: afterPaths.pathAt(afterOffset),
				})
			}
			afterOffset += len(chunk.Text)
		case diffmatchpatch.DiffDelete:
			res.RemovedChars += utf8.RuneCountInString(chunk.Text)
			if strings.TrimSpace(chunk.Text) != "" {
				records = append(records, model.DiffRecord{
					Kind:     model.DiffRemoved,
					Value:    truncValue(chunk.Text),
					PathHint: beforePaths.pathAt(beforeOffset),
				})
			}
			beforeOffset += len(chunk.Text)
		}
	}
	res.Records = records
	res.ChangeCount = len(records)
	res.ChangePercentage = percentage(res.AddedChars, res.RemovedChars, res.NormalizedBefore)
	return res
}

// Replay applies a delta produced by Diff onto the normalized base document
// and returns the resulting document.
func Replay(base, delta string) (string, error) {
	dmp := diffmatchpatch.New()
	diffs, err := dmp.DiffFromDelta(base, delta)
	if err != nil {
		return "", err
	}
	return dmp.DiffText2(diffs), nil
}

func truncValue(s string) string {
	if utf8.RuneCountInString(s) <= maxRecordValue {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRecordValue-3]) + "..."
}

func percentage(added, removed int, before string) float64 {
	base := utf8.RuneCountInString(before)
	if base < 1 {
		base = 1
	}
	pct := float64(added+removed) / float64(base) * 100
	pct = math.Round(pct*100) / 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
