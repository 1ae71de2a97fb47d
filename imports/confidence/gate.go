// Package confidence scores how much an extracted item can be trusted.
//
// A Gate combines four component scores into an overall score and a level.
// What to do with a level is a Policy decision, kept separate so tenants can
// tune thresholds without touching the scoring.
package confidence

import (
	"math"
	"sort"
)

type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelUnknown Level = "unknown"
)

const (
	highThreshold   = 0.85
	mediumThreshold = 0.70
)

// Component names one input of the gate; they double as confirmable facets.
type Component string

const (
	ComponentParser     Component = "parser"
	ComponentDocType    Component = "doc_type"
	ComponentMapping    Component = "mapping"
	ComponentValidation Component = "validation"
)

var Components = []Component{ComponentParser, ComponentDocType, ComponentMapping, ComponentValidation}

type Weights struct {
	Parser     float64
	DocType    float64
	Mapping    float64
	Validation float64
}

func DefaultWeights() Weights {
	return Weights{Parser: 0.20, DocType: 0.25, Mapping: 0.30, Validation: 0.25}
}

// Normalized scales the weights to sum to 1. Negative weights count as zero;
// an all-zero set falls back to the defaults.
func (w Weights) Normalized() Weights {
	w.Parser = math.Max(w.Parser, 0)
	w.DocType = math.Max(w.DocType, 0)
	w.Mapping = math.Max(w.Mapping, 0)
	w.Validation = math.Max(w.Validation, 0)
	sum := w.Parser + w.DocType + w.Mapping + w.Validation
	if sum == 0 {
		return DefaultWeights()
	}
	return Weights{Parser: w.Parser / sum, DocType: w.DocType / sum, Mapping: w.Mapping / sum, Validation: w.Validation / sum}
}

type Scores struct {
	Parser     float64 `json:"parser"`
	DocType    float64 `json:"doc_type"`
	Mapping    float64 `json:"mapping"`
	Validation float64 `json:"validation"`
}

func (s Scores) Get(c Component) float64 {
	switch c {
	case ComponentParser:
		return s.Parser
	case ComponentDocType:
		return s.DocType
	case ComponentMapping:
		return s.Mapping
	case ComponentValidation:
		return s.Validation
	}
	return 0
}

func (s *Scores) set(c Component, v float64) {
	switch c {
	case ComponentParser:
		s.Parser = v
	case ComponentDocType:
		s.DocType = v
	case ComponentMapping:
		s.Mapping = v
	case ComponentValidation:
		s.Validation = v
	}
}

// Gate holds the component scores of one item. Overall and level are
// recomputed on every change.
type Gate struct {
	weights Weights
	scores  Scores
	overall float64
	level   Level
}

func NewGate(w Weights) *Gate {
	g := &Gate{weights: w.Normalized()}
	g.recompute()
	return g
}

// Evaluate is a one-shot NewGate + SetScores.
func Evaluate(w Weights, s Scores) *Gate {
	g := NewGate(w)
	g.SetScores(s)
	return g
}

func (g *Gate) Set(c Component, v float64) {
	g.scores.set(c, clamp(v))
	g.recompute()
}

func (g *Gate) SetScores(s Scores) {
	for _, c := range Components {
		g.scores.set(c, clamp(s.Get(c)))
	}
	g.recompute()
}

func (g *Gate) Scores() Scores   { return g.scores }
func (g *Gate) Overall() float64 { return g.overall }
func (g *Gate) Level() Level     { return g.level }

// RequiresConfirmation is true whenever a human must look before promotion.
func (g *Gate) RequiresConfirmation() bool {
	return g.level != LevelHigh
}

// ShouldBlockPromotion is true when the item cannot be promoted even after
// confirmation of its weak facets.
func (g *Gate) ShouldBlockPromotion() bool {
	return g.level == LevelLow || g.level == LevelUnknown
}

// LowFacets returns the components under threshold, in component order.
func (g *Gate) LowFacets(threshold float64) []Component {
	var out []Component
	for _, c := range Components {
		if g.scores.Get(c) < threshold {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gate) recompute() {
	w := g.weights
	s := g.scores
	overall := w.Parser*s.Parser + w.DocType*s.DocType + w.Mapping*s.Mapping + w.Validation*s.Validation
	g.overall = math.Round(overall*10000) / 10000
	g.level = LevelFor(g.overall)
}

// LevelFor maps an overall score to its level.
func LevelFor(overall float64) Level {
	switch {
	case overall >= highThreshold:
		return LevelHigh
	case overall >= mediumThreshold:
		return LevelMedium
	case overall > 0:
		return LevelLow
	}
	return LevelUnknown
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sortComponents(cs []Component) {
	order := map[Component]int{}
	for i, c := range Components {
		order[c] = i
	}
	sort.Slice(cs, func(i, j int) bool { return order[cs[i]] < order[cs[j]] })
}
