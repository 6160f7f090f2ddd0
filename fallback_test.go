package main

import (
	"testing"
)

func defaultTestTaxonomy() Taxonomy {
	return Taxonomy{Ministries: defaultMinistries, Categories: defaultCategories}
}

func TestFallbackKeywordMatch(t *testing.T) {
	m := NewFallbackMatcher(nil, 0.30, 0.60)
	tax := defaultTestTaxonomy()

	result := m.Match("The hospital doctor gave my mother the wrong treatment and the nurse refused to help", tax)
	if result.Ministry != "Ministry of Health" {
		t.Errorf("ministry = %q, want Ministry of Health", result.Ministry)
	}
	if !result.UsedFallback {
		t.Errorf("UsedFallback should be true")
	}
	if result.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", result.Confidence)
	}
}

func TestFallbackNeverReturnsEmpty(t *testing.T) {
	m := NewFallbackMatcher(nil, 0.30, 0.60)
	tax := defaultTestTaxonomy()

	for _, text := range []string{"zzzz qqqq xxxx", "!!!", "a", ""} {
		result := m.Match(text, tax)
		if result.Ministry == "" || result.Category == "" {
			t.Errorf("Match(%q) returned empty fields: %+v", text, result)
		}
		if tax.CanonicalMinistry(result.Ministry) == "" {
			t.Errorf("Match(%q) ministry %q not in taxonomy", text, result.Ministry)
		}
		if tax.CanonicalCategory(result.Category) == "" {
			t.Errorf("Match(%q) category %q not in taxonomy", text, result.Category)
		}
	}
}

func TestFallbackGibberishLowConfidence(t *testing.T) {
	m := NewFallbackMatcher(nil, 0.30, 0.60)
	result := m.Match("zzzz qqqq xxxx wwww", defaultTestTaxonomy())
	if result.Confidence > 0.2 {
		t.Errorf("gibberish confidence = %f, want <= 0.2", result.Confidence)
	}
}

func TestFallbackEditDistance(t *testing.T) {
	m := NewFallbackMatcher(nil, 0.30, 0.60)
	// A near-miss spelling of a taxonomy entry resolves to that entry.
	name, conf := m.nearestEntry("ministry of helth", defaultMinistries)
	if name != "Ministry of Health" {
		t.Errorf("nearestEntry = %q, want Ministry of Health", name)
	}
	if conf < 0.8 {
		t.Errorf("confidence = %f, want >= 0.8 for a one-edit miss", conf)
	}
}

func TestFallbackIgnoresEntriesOutsideTaxonomy(t *testing.T) {
	custom := &KeywordMap{
		Ministries: []KeywordEntry{
			{Name: "Ministry of Magic", Keywords: []string{"hospital"}},
			{Name: "Ministry of Health", Keywords: []string{"hospital"}},
		},
		Categories: []KeywordEntry{
			{Name: "Service Delay", Keywords: []string{"waiting"}},
		},
	}
	m := NewFallbackMatcher(custom, 0.30, 0.60)

	result := m.Match("long waiting at the hospital", defaultTestTaxonomy())
	if result.Ministry != "Ministry of Health" {
		t.Errorf("keyword entry outside the taxonomy must be skipped, got %q", result.Ministry)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"health", "helth", 1},
		{"same", "same", 0},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
