package section

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/spyglass/internal/model"
)

// match is a strategy's raw result before bonuses.
type match struct {
	sel      *goquery.Selection
	typ      model.SectionType
	base     float64
	strategy string
}

type strategyFunc func(record model.DiffRecord, chain []*goquery.Selection) *match

// strategies in resolution order. Chains are deepest-first, so the first
// element matched inside a strategy is automatically the narrowest ancestor.
var strategies = []struct {
	name string
	fn   strategyFunc
}{
	{"attr", attrStrategy},
	{"semantic", semanticTagStrategy},
	{"heading", headingStrategy},
	{"content", contentStrategy},
	{"structural", structuralStrategy},
}

// selfNamingTags resolve a section type from the tag alone.
var selfNamingTags = map[string]model.SectionType{
	"header": model.SectionHeader,
	"nav":    model.SectionNavigation,
	"footer": model.SectionFooter,
}

// semanticTags earn the structural bonus when another signal matched on them.
var semanticTags = map[string]struct{}{
	"header": {}, "nav": {}, "main": {}, "section": {},
	"article": {}, "aside": {}, "footer": {},
}

// attrStrategy: explicit data-section, id or class token on an ancestor.
// data-section and id are trusted more than class.
func attrStrategy(_ model.DiffRecord, chain []*goquery.Selection) *match {
	for _, el := range chain {
		if v, ok := el.Attr("data-section"); ok {
			if t, hit := tokenType(v); hit {
				return &match{sel: el, typ: t, base: confAttrID, strategy: "attr"}
			}
		}
		if v, ok := el.Attr("id"); ok {
			if t, hit := tokenType(v); hit {
				return &match{sel: el, typ: t, base: confAttrID, strategy: "attr"}
			}
		}
		if v, ok := el.Attr("class"); ok {
			if t, hit := tokenType(v); hit {
				return &match{sel: el, typ: t, base: confAttrClass, strategy: "attr"}
			}
		}
	}
	return nil
}

// semanticTagStrategy: a header/nav/footer ancestor names its region.
func semanticTagStrategy(_ model.DiffRecord, chain []*goquery.Selection) *match {
	for _, el := range chain {
		if t, ok := selfNamingTags[goquery.NodeName(el)]; ok {
			return &match{sel: el, typ: t, base: confSemanticTag, strategy: "semantic"}
		}
	}
	return nil
}

// headingStrategy: nearest ancestor containing a heading whose text matches a
// keyword list (English and Spanish).
func headingStrategy(_ model.DiffRecord, chain []*goquery.Selection) *match {
	for _, el := range chain {
		var found *match
		el.Find("h1, h2, h3, h4, h5, h6").EachWithBreak(func(_ int, h *goquery.Selection) bool {
			if t, ok := headingType(h.Text()); ok {
				found = &match{sel: el, typ: t, base: confHeading, strategy: "heading"}
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// contentStrategy: heuristics on the changed element itself.
func contentStrategy(record model.DiffRecord, chain []*goquery.Selection) *match {
	el := chain[0]
	if t, ok := contentTypeOf(el, record); ok {
		return &match{sel: el, typ: t, base: confContent, strategy: "content"}
	}
	return nil
}

// structuralStrategy: repeated card-like children carrying price markers mean
// a pricing container even without naming.
func structuralStrategy(_ model.DiffRecord, chain []*goquery.Selection) *match {
	for _, el := range chain {
		cards := 0
		el.Children().Each(func(_ int, child *goquery.Selection) {
			cls, _ := child.Attr("class")
			if !hasCardToken(cls) {
				return
			}
			if child.Find("[class*=price]").Length() > 0 || hasCurrency(child.Text()) {
				cards++
			}
		})
		if cards >= 3 {
			return &match{sel: el, typ: model.SectionPricing, base: confStructural, strategy: "structural"}
		}
	}
	return nil
}

func hasCardToken(class string) bool {
	for _, tok := range splitTokens(class) {
		switch tok {
		case "card", "plan", "tier", "column", "col", "box":
			return true
		}
	}
	return false
}

// contentTypeOf applies the content heuristics to an element plus the record
// text, in fixed priority: currency, form controls, quoted short text,
// imperative action words.
func contentTypeOf(el *goquery.Selection, record model.DiffRecord) (model.SectionType, bool) {
	text := el.Text()
	if hasCurrency(text) || hasCurrency(record.Value) {
		return model.SectionPricing, true
	}
	if goquery.NodeName(el) == "form" || el.Find("input, select, textarea").Length() > 0 {
		return model.SectionForm, true
	}
	if isQuotedShortText(text) || el.Find("blockquote").Length() > 0 || goquery.NodeName(el) == "blockquote" {
		return model.SectionTestimonials, true
	}
	if hasCTAWord(text) || hasCTAWord(record.Value) {
		return model.SectionCTA, true
	}
	return "", false
}

// isQuotedShortText: a short passage wrapped in quotes reads like a
// testimonial pull quote.
func isQuotedShortText(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 || len(t) > 300 {
		return false
	}
	quoted := func(open, close string) bool {
		return strings.HasPrefix(t, open) && strings.HasSuffix(t, close)
	}
	return quoted(`"`, `"`) || quoted("“", "”") || quoted("'", "'") || quoted("«", "»")
}

// finishMatch applies the additive bonuses to a strategy match and renders
// the final section. The semantic-tag bonus applies when the matched element
// is one of the HTML5 sectioning tags (unless the tag itself was the signal);
// the content-agreement bonus applies when the content heuristics
// independently suggest the same type (unless they were the signal).
func finishMatch(m *match, record model.DiffRecord) model.Section {
	conf := m.base
	if m.strategy != "semantic" {
		if _, ok := semanticTags[goquery.NodeName(m.sel)]; ok {
			conf += bonusSemanticTag
		}
	}
	if m.strategy != "content" {
		if t, ok := contentTypeOf(m.sel, record); ok && t == m.typ {
			conf += bonusContentAgree
		}
	}
	return model.Section{
		Selector:   buildSelector(m.sel),
		Type:       m.typ,
		Confidence: round2(clamp01(conf)),
	}
}
