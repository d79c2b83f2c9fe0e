package capability

import (
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"
)

// DetectionThresholds tunes DetectBusinessModel. The defaults are heuristics,
// not business rules.
type DetectionThresholds struct {
	// MinCoverage is the fraction of a template's capabilities that must be
	// present for the template to be returned.
	MinCoverage float64
	// HighCoverage and HighBonus add HighBonus to the score at or above
	// HighCoverage.
	HighCoverage float64
	HighBonus    float64
	// MediumCoverage and MediumBonus apply when HighCoverage is not reached.
	MediumCoverage float64
	MediumBonus    float64
}

var DefaultThresholds = DetectionThresholds{
	MinCoverage:    0.5,
	HighCoverage:   0.9,
	HighBonus:      0.1,
	MediumCoverage: 0.75,
	MediumBonus:    0.05,
}

// Match is the evaluation of one template against a capability set.
type Match struct {
	Model    BusinessModel
	Matched  int
	Total    int
	Coverage float64
	Score    float64
	Missing  []string
}

// DetectBusinessModel returns the best matching template for caps using
// DefaultThresholds.
func DetectBusinessModel(caps sets.Set[string]) BusinessModel {
	return DetectBusinessModelWith(caps, DefaultThresholds)
}

// DetectBusinessModelWith is DetectBusinessModel with explicit thresholds.
//
// Templates are ranked by score, then raw match count, then coverage, then
// declaration order in Templates. The best one is returned if its coverage is
// at least th.MinCoverage; otherwise BusinessModelCustom.
func DetectBusinessModelWith(caps sets.Set[string], th DetectionThresholds) BusinessModel {
	ranked := Rank(caps, th)
	if len(ranked) == 0 || ranked[0].Coverage < th.MinCoverage {
		return BusinessModelCustom
	}
	return ranked[0].Model
}

// Rank evaluates every template against caps and returns them best first.
func Rank(caps sets.Set[string], th DetectionThresholds) []Match {
	matches := make([]Match, 0, len(Templates))
	for _, tpl := range Templates {
		matches = append(matches, evaluate(tpl, caps, th))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Matched != b.Matched {
			return a.Matched > b.Matched
		}
		return a.Coverage > b.Coverage
	})
	return matches
}

func evaluate(tpl Template, caps sets.Set[string], th DetectionThresholds) Match {
	m := Match{Model: tpl.Model, Total: len(tpl.Required)}
	for _, c := range tpl.Required {
		if caps.Has(c) {
			m.Matched++
		} else {
			m.Missing = append(m.Missing, c)
		}
	}
	if m.Total > 0 {
		m.Coverage = float64(m.Matched) / float64(m.Total)
	}
	m.Score = m.Coverage
	switch {
	case m.Coverage >= th.HighCoverage:
		m.Score += th.HighBonus
	case m.Coverage >= th.MediumCoverage:
		m.Score += th.MediumBonus
	}
	return m
}

// Suggestion is an upgrade path toward a business-model template.
type Suggestion struct {
	Model    BusinessModel
	Coverage float64
	// Missing capabilities, in template order.
	Missing []string
	// Attributes that would enable the missing capabilities, sorted.
	Attributes []string
}

// SuggestUpgrades lists templates that caps partially covers (at least
// DefaultThresholds.MinCoverage but not fully), best coverage first, with the
// attributes that would complete them.
func SuggestUpgrades(caps sets.Set[string]) []Suggestion {
	var out []Suggestion
	for _, m := range Rank(caps, DefaultThresholds) {
		if m.Coverage < DefaultThresholds.MinCoverage || m.Coverage >= 1 {
			continue
		}
		attrs := sets.New[string]()
		for _, c := range m.Missing {
			attrs.Insert(AttributesFor(c)...)
		}
		out = append(out, Suggestion{
			Model:      m.Model,
			Coverage:   m.Coverage,
			Missing:    m.Missing,
			Attributes: sets.List(attrs),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Coverage > out[j].Coverage })
	return out
}
