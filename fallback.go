package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordMap binds free-text phrases to taxonomy entries. The built-in
// table below covers the default taxonomy; operators can extend or replace
// it with a yaml file without recompiling.
type KeywordMap struct {
	Ministries []KeywordEntry `yaml:"ministries"`
	Categories []KeywordEntry `yaml:"categories"`
}

type KeywordEntry struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

func LoadKeywordMap(path string) (*KeywordMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword map: %w", err)
	}
	var m KeywordMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse keyword map yaml: %w", err)
	}
	return &m, nil
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var defaultKeywordMap = KeywordMap{
	Ministries: []KeywordEntry{
		{Name: "Ministry of Health", Keywords: []string{"hospital", "doctor", "clinic", "medicine", "nurse", "ambulance", "patient", "treatment", "vaccine"}},
		{Name: "Ministry of Education", Keywords: []string{"school", "teacher", "college", "university", "exam", "scholarship", "student", "tuition"}},
		{Name: "Ministry of Transport", Keywords: []string{"road", "bus", "highway", "pothole", "traffic", "bridge", "license", "vehicle", "railway"}},
		{Name: "Ministry of Water Resources", Keywords: []string{"water", "pipe", "borehole", "drainage", "sewage", "flood", "irrigation", "tap"}},
		{Name: "Ministry of Energy", Keywords: []string{"electricity", "power", "outage", "blackout", "meter", "transformer", "grid", "bill"}},
		{Name: "Ministry of Home Affairs", Keywords: []string{"police", "passport", "visa", "crime", "theft", "officer", "station", "identity card"}},
		{Name: "Ministry of Social Welfare", Keywords: []string{"pension", "benefit", "welfare", "disability", "allowance", "grant", "elderly", "orphan"}},
		{Name: "Ministry of Finance", Keywords: []string{"tax", "refund", "customs", "duty", "levy", "revenue", "payment"}},
	},
	Categories: []KeywordEntry{
		{Name: "Service Delay", Keywords: []string{"delay", "waiting", "slow", "pending", "months", "no response", "still not"}},
		{Name: "Medical Negligence", Keywords: []string{"misdiagnosis", "negligence", "wrong treatment", "malpractice", "surgery", "died", "injury"}},
		{Name: "Emergency Services", Keywords: []string{"ambulance", "emergency", "fire brigade", "rescue", "911", "urgent"}},
		{Name: "Police Misconduct", Keywords: []string{"police", "brutality", "harassment", "arrest", "officer", "abuse"}},
		{Name: "Corruption & Bribery", Keywords: []string{"bribe", "corruption", "kickback", "demanded money", "extortion"}},
		{Name: "Water Supply", Keywords: []string{"water", "no water", "dirty water", "pipe burst", "supply"}},
		{Name: "Electricity", Keywords: []string{"electricity", "power cut", "outage", "blackout", "voltage"}},
		{Name: "Road Maintenance", Keywords: []string{"pothole", "road", "repair", "broken road", "street light"}},
		{Name: "Sanitation & Waste", Keywords: []string{"garbage", "waste", "trash", "sewage", "sanitation", "dump"}},
		{Name: "Pension & Benefits", Keywords: []string{"pension", "benefit", "payment stopped", "allowance", "arrears"}},
		{Name: "Staff Misbehavior", Keywords: []string{"rude", "misbehavior", "shouted", "insulted", "refused to help", "attitude"}},
		{Name: "Billing & Fees", Keywords: []string{"overcharged", "bill", "fee", "charged twice", "invoice", "billing"}},
	},
}

// FallbackMatcher is the deterministic classifier used when the primary
// classification is absent or below the confidence threshold.
type FallbackMatcher struct {
	keywords KeywordMap
	// KeywordThreshold is the minimum matched-keyword fraction for the
	// keyword pass; below it the edit-distance pass runs.
	KeywordThreshold float64
	// MaxDistanceRatio rejects an edit-distance best match farther than
	// this fraction of the query length; the first taxonomy entry is used
	// instead so text is never classified as nothing.
	MaxDistanceRatio float64
}

func NewFallbackMatcher(keywords *KeywordMap, keywordThreshold, maxDistanceRatio float64) *FallbackMatcher {
	m := &FallbackMatcher{
		keywords:         defaultKeywordMap,
		KeywordThreshold: keywordThreshold,
		MaxDistanceRatio: maxDistanceRatio,
	}
	if keywords != nil {
		m.keywords = *keywords
	}
	return m
}

// Match resolves text to one ministry and one category from the given
// taxonomy. It always returns members of the taxonomy and never fails.
func (m *FallbackMatcher) Match(text string, tax Taxonomy) ClassificationResult {
	ministry, mConf := m.matchKeywords(text, m.keywords.Ministries, tax.Ministries)
	category, cConf := m.matchKeywords(text, m.keywords.Categories, tax.Categories)

	if ministry == "" || mConf < m.KeywordThreshold {
		ministry, mConf = m.nearestEntry(text, tax.Ministries)
	}
	if category == "" || cConf < m.KeywordThreshold {
		category, cConf = m.nearestEntry(text, tax.Categories)
	}

	conf := mConf
	if cConf < conf {
		conf = cConf
	}
	return ClassificationResult{
		Ministry:     ministry,
		Category:     category,
		Confidence:   conf,
		UsedFallback: true,
	}
}

// matchKeywords scores each keyword table entry by the fraction of its
// keywords found in text and returns the best entry that is also a member
// of the live taxonomy.
func (m *FallbackMatcher) matchKeywords(text string, entries []KeywordEntry, taxonomy []string) (string, float64) {
	needle := normalizeTextToken(text)
	if needle == "" {
		return "", 0
	}

	best := ""
	bestScore := 0.0
	for _, entry := range entries {
		name := canonical(taxonomy, entry.Name)
		if name == "" || len(entry.Keywords) == 0 {
			continue
		}
		matched := 0
		for _, kw := range entry.Keywords {
			if kw = normalizeTextToken(kw); kw != "" && strings.Contains(needle, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(entry.Keywords))
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	return best, bestScore
}

// nearestEntry finds the taxonomy entry with the smallest normalized edit
// distance to text. A best match farther than MaxDistanceRatio of the
// query's length is rejected in favor of the first entry.
func (m *FallbackMatcher) nearestEntry(text string, taxonomy []string) (string, float64) {
	if len(taxonomy) == 0 {
		return "", 0
	}
	needle := normalizeTextToken(text)
	if needle == "" {
		return taxonomy[0], 0.1
	}

	best := taxonomy[0]
	bestDist := -1
	for _, entry := range taxonomy {
		d := levenshtein(needle, normalizeTextToken(entry))
		if bestDist < 0 || d < bestDist {
			best, bestDist = entry, d
		}
	}

	maxAllowed := int(float64(len(needle)) * m.MaxDistanceRatio)
	if bestDist > maxAllowed {
		return taxonomy[0], 0.1
	}
	conf := 1.0 - float64(bestDist)/float64(len(needle))
	if conf < 0.1 {
		conf = 0.1
	}
	return best, conf
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
