package classify

import (
	"strings"
	"testing"

	"github.com/raysh454/spyglass/internal/model"
)

func locatedSection(t model.SectionType, conf float64) []model.Section {
	return []model.Section{{Selector: "section#" + string(t), Type: t, Confidence: conf}}
}

func TestClassify_SeverityLadder(t *testing.T) {
	c := New(nil)
	cases := []struct {
		name       string
		percentage float64
		count      int
		want       model.Severity
	}{
		{"critical above 30", 30.5, 1, model.SeverityCritical},
		{"high above 20", 25.0, 1, model.SeverityHigh},
		{"medium above 10", 15.0, 1, model.SeverityMedium},
		{"medium by count", 2.0, 11, model.SeverityMedium},
		{"low otherwise", 2.0, 3, model.SeverityLow},
		{"boundary 30 is high not critical", 30.0, 1, model.SeverityHigh},
		{"boundary 10 with low count is low", 10.0, 5, model.SeverityLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := c.Classify(Input{
				Records:          []model.DiffRecord{{Kind: model.DiffAdded, Value: "new paragraph of text"}},
				ChangeCount:      tc.count,
				ChangePercentage: tc.percentage,
				Sections:         locatedSection(model.SectionContent, 0.8),
			})
			if out.Severity != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, out.Severity)
			}
		})
	}
}

func TestClassify_PricingDeltaFloorsAtMedium(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffRemoved, Value: "$29/month"},
			{Kind: model.DiffAdded, Value: "$32/month"},
		},
		ChangeCount:      2,
		ChangePercentage: 0.5,
		Sections:         locatedSection(model.SectionPricing, 0.95),
	})

	if out.ChangeType != model.ChangePricing {
		t.Errorf("Expected pricing type, got %s", out.ChangeType)
	}
	if !out.PricingDelta {
		t.Error("Expected PricingDelta to be set")
	}
	if out.Severity != model.SeverityMedium {
		t.Errorf("Expected medium floor for small price move, got %s", out.Severity)
	}
}

func TestClassify_LargePriceMoveIsCritical(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffRemoved, Value: "$20/month"},
			{Kind: model.DiffAdded, Value: "$30/month"},
		},
		ChangeCount:      2,
		ChangePercentage: 1.0,
		Sections:         locatedSection(model.SectionPricing, 0.95),
	})

	// |30-20|/20 = 0.5, at the critical threshold.
	if out.Severity != model.SeverityCritical {
		t.Errorf("Expected critical for a 50%% price move, got %s", out.Severity)
	}
}

func TestClassify_DigitOnlyPriceEdit(t *testing.T) {
	c := New(nil)
	// A $29 -> $19 edit: the differ isolates the changed digit, so the
	// records carry no currency marker. The located pricing section still
	// makes it a pricing delta with the medium floor; the bare digits must
	// not feed the price-move escalation (2 -> 1 would read as a 50% move).
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffRemoved, Value: "2", PathHint: "p.price"},
			{Kind: model.DiffAdded, Value: "1", PathHint: "p.price"},
		},
		ChangeCount:      2,
		ChangePercentage: 3.6,
		Sections:         locatedSection(model.SectionPricing, 0.9),
	})

	if !out.PricingDelta {
		t.Error("Expected PricingDelta from the located pricing section")
	}
	if out.ChangeType != model.ChangePricing {
		t.Errorf("Expected pricing type, got %s", out.ChangeType)
	}
	if out.Severity != model.SeverityMedium {
		t.Errorf("Expected the medium pricing floor, got %s", out.Severity)
	}

	// A pricing section below the noise floor does not qualify.
	out = c.Classify(Input{
		Records:          []model.DiffRecord{{Kind: model.DiffAdded, Value: "1"}},
		ChangeCount:      1,
		ChangePercentage: 0.5,
		Sections:         locatedSection(model.SectionPricing, 0.3),
	})
	if out.PricingDelta {
		t.Error("Expected no pricing delta from a sub-threshold section")
	}
}

func TestClassify_PricingSignalWinsOverDominantSection(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffAdded, Value: "now only $5"},
		},
		ChangeCount:      1,
		ChangePercentage: 1.0,
		Sections:         locatedSection(model.SectionHero, 0.9),
	})

	if out.ChangeType != model.ChangePricing {
		t.Errorf("Expected pricing to win over hero, got %s", out.ChangeType)
	}
}

func TestClassify_NoiseCapsSeverity(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffAdded, Value: "cache-bust-a3f9c2e1b4"},
		},
		ChangeCount:      50,
		ChangePercentage: 45.0,
		Sections:         locatedSection(model.SectionContent, 0.3),
	})

	if !out.Noise {
		t.Error("Expected Noise for sub-threshold confidence")
	}
	if out.Severity != model.SeverityLow {
		t.Errorf("Expected low severity cap on noise, got %s", out.Severity)
	}
	if out.ChangeType != model.ChangeOther {
		t.Errorf("Expected other type on noise, got %s", out.ChangeType)
	}
	if !strings.Contains(out.Summary, "technical") {
		t.Errorf("Expected technical summary, got %q", out.Summary)
	}
}

func TestClassify_TechnicalChurnIsOther(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records: []model.DiffRecord{
			{Kind: model.DiffRemoved, Value: "build-a1b2c3d4e5"},
			{Kind: model.DiffAdded, Value: "build-e5f6a7b8c9"},
		},
		ChangeCount:      2,
		ChangePercentage: 0.3,
		Sections:         locatedSection(model.SectionContent, 0.8),
	})

	if out.ChangeType != model.ChangeOther {
		t.Errorf("Expected other for hash churn, got %s", out.ChangeType)
	}
}

func TestClassify_SectionTypeMapping(t *testing.T) {
	c := New(nil)
	cases := []struct {
		section model.SectionType
		want    model.ChangeType
	}{
		{model.SectionPricing, model.ChangePricing},
		{model.SectionFeatures, model.ChangeFeature},
		{model.SectionNavigation, model.ChangeDesign},
		{model.SectionHeader, model.ChangeDesign},
		{model.SectionFooter, model.ChangeDesign},
		{model.SectionHero, model.ChangeContent},
		{model.SectionTestimonials, model.ChangeContent},
		{model.SectionContent, model.ChangeContent},
	}

	for _, tc := range cases {
		out := c.Classify(Input{
			Records:          []model.DiffRecord{{Kind: model.DiffAdded, Value: "some new wording here"}},
			ChangeCount:      1,
			ChangePercentage: 1.0,
			Sections:         locatedSection(tc.section, 0.9),
		})
		if out.ChangeType != tc.want {
			t.Errorf("Section %s: expected %s, got %s", tc.section, tc.want, out.ChangeType)
		}
	}
}

func TestClassify_DominantSectionInSummary(t *testing.T) {
	c := New(nil)
	out := c.Classify(Input{
		Records:          []model.DiffRecord{{Kind: model.DiffAdded, Value: "new feature copy"}},
		ChangeCount:      1,
		ChangePercentage: 5.0,
		Sections: []model.Section{
			{Selector: "section#features", Type: model.SectionFeatures, Confidence: 0.95},
			{Selector: "div.misc", Type: model.SectionContent, Confidence: 0.3},
		},
	})

	if out.Dominant == nil || out.Dominant.Selector != "section#features" {
		t.Fatalf("Expected dominant section#features, got %+v", out.Dominant)
	}
	if !strings.Contains(out.Summary, "section#features") {
		t.Errorf("Expected summary to name the dominant section, got %q", out.Summary)
	}
}

func TestPriceMoveRatio(t *testing.T) {
	ratio, ok := priceMoveRatio([]model.DiffRecord{
		{Kind: model.DiffRemoved, Value: "$100"},
		{Kind: model.DiffAdded, Value: "$150"},
	})
	if !ok {
		t.Fatal("Expected a ratio")
	}
	if ratio != 0.5 {
		t.Errorf("Expected 0.5, got %f", ratio)
	}

	// Only an added price: no ratio.
	if _, ok := priceMoveRatio([]model.DiffRecord{
		{Kind: model.DiffAdded, Value: "$150"},
	}); ok {
		t.Error("Expected no ratio without a removed price")
	}
}

func TestLooksTechnical(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"a3f9c2e1b4", true},
		{"bundle.e5f6a7b8.js", false}, // dots are not identifier chars
		{"csrf_token_9f8e7d6c", true},
		{"Now $19/month", false},
		{"short1", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := looksTechnical(tc.in); got != tc.want {
			t.Errorf("looksTechnical(%q): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
