// Package section resolves low-level change records to the semantic page
// region they landed in (pricing, hero, navigation, ...), with a confidence
// score. Resolution tries a fixed ordered list of strategies; the first one
// that produces a match wins, and ties inside a strategy go to the deepest
// ancestor.
package section

import (
	"math"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

// Confidence bases and bonuses.
const (
	confAttrID      = 0.95
	confAttrClass   = 0.75
	confHeading     = 0.65
	confSemanticTag = 0.65
	confStructural  = 0.55
	confContent     = 0.45
	confFallback    = 0.3

	bonusSemanticTag  = 0.10
	bonusContentAgree = 0.15
)

// anchorNeedleLen bounds the text-search needle taken from a record value.
const anchorNeedleLen = 48

// Locator maps change records onto semantic sections.
type Locator struct {
	logger logging.Logger
}

// NewLocator creates a Locator.
func NewLocator(logger logging.Logger) *Locator {
	return &Locator{logger: logging.OrNop(logger)}
}

// ParseDocument parses an HTML document for locating. Parsing is tolerant;
// malformed markup yields a best-effort tree rather than an error.
func ParseDocument(htmlStr string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
}

// Locate resolves one change record against the after-document.
func (l *Locator) Locate(record model.DiffRecord, doc *goquery.Document) model.Section {
	fallback := model.Section{Selector: "body", Type: model.SectionContent, Confidence: confFallback}
	if doc == nil {
		return fallback
	}

	anchor := l.anchorFor(record, doc)
	chain := ancestorChain(anchor)
	if len(chain) == 0 {
		return fallback
	}

	for _, strat := range strategies {
		if m := strat.fn(record, chain); m != nil {
			return finishMatch(m, record)
		}
	}
	return fallback
}

// LocateAll resolves every record, merging duplicates by (selector, type).
// The reported confidence is the best single-record score for the section,
// kept on the [0,1] scale; the cumulative score across records only ranks
// the output, so a region hit by many records sorts first. Ordering is by
// cumulative score descending, then selector, so output is deterministic.
func (l *Locator) LocateAll(records []model.DiffRecord, doc *goquery.Document) []model.Section {
	type key struct {
		selector string
		typ      model.SectionType
	}
	type score struct {
		sum, best float64
	}
	acc := make(map[key]score)
	for _, rec := range records {
		sec := l.Locate(rec, doc)
		k := key{sec.Selector, sec.Type}
		s := acc[k]
		s.sum += sec.Confidence
		if sec.Confidence > s.best {
			s.best = sec.Confidence
		}
		acc[k] = s
	}

	out := make([]model.Section, 0, len(acc))
	rank := make(map[key]float64, len(acc))
	for k, s := range acc {
		rank[k] = s.sum
		out = append(out, model.Section{
			Selector:   k.selector,
			Type:       k.typ,
			Confidence: round2(clamp01(s.best)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ri := rank[key{out[i].Selector, out[i].Type}]
		rj := rank[key{out[j].Selector, out[j].Type}]
		if ri != rj {
			return ri > rj
		}
		return out[i].Selector < out[j].Selector
	})
	return out
}

// anchorFor finds the element the change most plausibly belongs to: first by
// resolving the record's path hint as a selector, then (for additions) by
// searching for the changed text, finally falling back to body.
func (l *Locator) anchorFor(record model.DiffRecord, doc *goquery.Document) *goquery.Selection {
	if hint := record.PathHint; hint != "" && safeSelector(hint) {
		if sel := doc.Find(hint).First(); sel.Length() > 0 {
			return sel
		}
	}

	if record.Kind == model.DiffAdded {
		needle := strings.TrimSpace(record.Value)
		if runes := []rune(needle); len(runes) > anchorNeedleLen {
			needle = string(runes[:anchorNeedleLen])
		}
		if needle != "" {
			if sel := tightestContaining(doc, needle); sel != nil {
				return sel
			}
		}
	}

	return doc.Find("body").First()
}

// tightestContaining returns the element with the shortest text that still
// contains needle, i.e. the closest container of the changed text.
func tightestContaining(doc *goquery.Document, needle string) *goquery.Selection {
	var best *goquery.Selection
	bestLen := -1
	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if !strings.Contains(text, needle) {
			return
		}
		if bestLen == -1 || len(text) < bestLen {
			best = sel
			bestLen = len(text)
		}
	})
	return best
}

// ancestorChain returns anchor plus its ancestors, deepest first, stopping
// below the html element.
func ancestorChain(anchor *goquery.Selection) []*goquery.Selection {
	var chain []*goquery.Selection
	cur := anchor
	for cur != nil && cur.Length() > 0 {
		name := goquery.NodeName(cur)
		if name == "html" || name == "#document" {
			break
		}
		chain = append(chain, cur)
		cur = cur.Parent()
	}
	return chain
}

// safeSelector accepts only the character set our path hints are built from;
// anything else is not worth handing to the selector engine.
func safeSelector(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '#' || r == '.' || r == '>' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return s != ""
}

// buildSelector renders a compact selector for an element: tag#id, tag.class
// or bare tag.
func buildSelector(sel *goquery.Selection) string {
	name := goquery.NodeName(sel)
	if id, ok := sel.Attr("id"); ok {
		if id = strings.TrimSpace(id); id != "" {
			return name + "#" + id
		}
	}
	if cls, ok := sel.Attr("class"); ok {
		if fields := strings.Fields(cls); len(fields) > 0 {
			return name + "." + fields[0]
		}
	}
	return name
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
