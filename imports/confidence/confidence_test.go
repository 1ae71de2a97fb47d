package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateUniformScores(t *testing.T) {
	g := Evaluate(DefaultWeights(), Scores{Parser: 0.9, DocType: 0.9, Mapping: 0.9, Validation: 0.9})
	assert.InDelta(t, 0.90, g.Overall(), 1e-9)
	assert.Equal(t, LevelHigh, g.Level())
	assert.False(t, g.RequiresConfirmation())
	assert.Equal(t, DecisionAutoApprove, DefaultPolicy().Decide(g))
}

func TestGateWeakValidation(t *testing.T) {
	g := Evaluate(DefaultWeights(), Scores{Parser: 0.9, DocType: 0.9, Mapping: 0.9, Validation: 0.3})
	assert.InDelta(t, 0.75, g.Overall(), 1e-9)
	assert.Equal(t, LevelMedium, g.Level())
	assert.True(t, g.RequiresConfirmation())
	assert.False(t, g.ShouldBlockPromotion())
	assert.Equal(t, DecisionConfirm, DefaultPolicy().Decide(g))
	assert.Equal(t, []Component{ComponentValidation}, g.LowFacets(0.70))
}

func TestGateLevels(t *testing.T) {
	cases := []struct {
		overall float64
		level   Level
		block   bool
	}{
		{1, LevelHigh, false},
		{0.85, LevelHigh, false},
		{0.8499, LevelMedium, false},
		{0.70, LevelMedium, false},
		{0.69, LevelLow, true},
		{0.01, LevelLow, true},
		{0, LevelUnknown, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.level, LevelFor(c.overall), "overall %v", c.overall)
		g := Evaluate(DefaultWeights(), Scores{Parser: c.overall, DocType: c.overall, Mapping: c.overall, Validation: c.overall})
		assert.Equal(t, c.block, g.ShouldBlockPromotion(), "overall %v", c.overall)
	}
}

func TestUnknownIsBlocked(t *testing.T) {
	g := NewGate(DefaultWeights())
	assert.Equal(t, LevelUnknown, g.Level())
	assert.Equal(t, DecisionBlock, DefaultPolicy().Decide(g))
	assert.Equal(t, DecisionBlock, Policy{AutoApprove: 0.9, Confirm: 0.5, Block: -1}.Decide(g))

	// Nothing scored is treated like low: confirming facets cannot lift it.
	assert.True(t, g.ShouldBlockPromotion())
	assert.True(t, g.RequiresConfirmation())
	tracker := NewFacetTracker(0.70)
	for _, c := range tracker.Track(g.Scores()) {
		require.NoError(t, tracker.Confirm(c))
	}
	assert.True(t, tracker.AllConfirmed())
	assert.Equal(t, DecisionBlock, DefaultPolicy().Decide(g))

	g.Set(ComponentParser, 0.1)
	assert.Equal(t, LevelLow, g.Level())
	assert.True(t, g.ShouldBlockPromotion())
}

func TestGateMonotonic(t *testing.T) {
	base := Scores{Parser: 0.5, DocType: 0.6, Mapping: 0.4, Validation: 0.7}
	for _, c := range Components {
		g := Evaluate(DefaultWeights(), base)
		prev := g.Overall()
		for v := base.Get(c); v <= 1.0; v += 0.05 {
			g.Set(c, v)
			assert.GreaterOrEqual(t, g.Overall(), prev, "component %s at %v", c, v)
			prev = g.Overall()
		}
	}
}

func TestGateClampsScores(t *testing.T) {
	g := Evaluate(DefaultWeights(), Scores{Parser: 4, DocType: -1, Mapping: 1, Validation: 1})
	assert.Equal(t, 1.0, g.Scores().Parser)
	assert.Equal(t, 0.0, g.Scores().DocType)
	assert.InDelta(t, 0.75, g.Overall(), 1e-9)
}

func TestWeightsNormalized(t *testing.T) {
	w := Weights{Parser: 2, DocType: 2, Mapping: 2, Validation: 2}.Normalized()
	assert.InDelta(t, 0.25, w.Parser, 1e-9)
	assert.InDelta(t, 0.25, w.Validation, 1e-9)

	assert.Equal(t, DefaultWeights(), Weights{}.Normalized())

	g := Evaluate(Weights{Mapping: 1}, Scores{Parser: 0, DocType: 0, Mapping: 0.8, Validation: 0})
	assert.InDelta(t, 0.8, g.Overall(), 1e-9)
}

func TestPolicyTunedThresholds(t *testing.T) {
	g := Evaluate(DefaultWeights(), Scores{Parser: 0.8, DocType: 0.8, Mapping: 0.8, Validation: 0.8})
	assert.Equal(t, DecisionConfirm, DefaultPolicy().Decide(g))
	assert.Equal(t, DecisionAutoApprove, Policy{AutoApprove: 0.8, Confirm: 0.6}.Decide(g))
	assert.Equal(t, DecisionBlock, Policy{AutoApprove: 0.95, Confirm: 0.9}.Decide(g))
}

func TestFacetTracker(t *testing.T) {
	ft := NewFacetTracker(0.70)
	low := ft.Track(Scores{Parser: 0.9, DocType: 0.5, Mapping: 0.9, Validation: 0.3})
	assert.Equal(t, []Component{ComponentDocType, ComponentValidation}, low)
	assert.False(t, ft.AllConfirmed())

	require.NoError(t, ft.Confirm(ComponentValidation))
	assert.Equal(t, []Component{ComponentDocType}, ft.Pending())
	assert.ErrorIs(t, ft.Confirm(ComponentParser), ErrFacetNotPending)

	require.NoError(t, ft.Confirm(ComponentDocType))
	assert.True(t, ft.AllConfirmed())

	// doc_type recovers: its confirmation is dropped, validation's survives
	ft.Track(Scores{Parser: 0.9, DocType: 0.9, Mapping: 0.9, Validation: 0.3})
	assert.Equal(t, []Component{ComponentValidation}, ft.Confirmed())
	assert.True(t, ft.AllConfirmed())

	restored := NewFacetTracker(0.70)
	restored.Restore([]Component{ComponentMapping}, []Component{ComponentMapping, ComponentParser})
	assert.Equal(t, []Component{ComponentMapping}, restored.Confirmed())
}
