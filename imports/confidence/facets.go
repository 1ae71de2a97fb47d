package confidence

import (
	"errors"
	"fmt"
)

var ErrFacetNotPending = errors.New("facet does not need confirmation")

// FacetTracker records which weak components of an item a reviewer has
// explicitly confirmed.
type FacetTracker struct {
	threshold float64
	low       map[Component]bool
	confirmed map[Component]bool
}

func NewFacetTracker(threshold float64) *FacetTracker {
	return &FacetTracker{threshold: threshold, low: map[Component]bool{}, confirmed: map[Component]bool{}}
}

// Track replaces the set of low facets from fresh scores. Confirmations of
// facets that are still low survive; confirmations of recovered facets are
// dropped.
func (t *FacetTracker) Track(s Scores) []Component {
	low := map[Component]bool{}
	for _, c := range Components {
		if s.Get(c) < t.threshold {
			low[c] = true
		}
	}
	for c := range t.confirmed {
		if !low[c] {
			delete(t.confirmed, c)
		}
	}
	t.low = low
	return t.Low()
}

// Restore loads previously persisted state.
func (t *FacetTracker) Restore(low, confirmed []Component) {
	t.low = map[Component]bool{}
	t.confirmed = map[Component]bool{}
	for _, c := range low {
		t.low[c] = true
	}
	for _, c := range confirmed {
		if t.low[c] {
			t.confirmed[c] = true
		}
	}
}

func (t *FacetTracker) Confirm(c Component) error {
	if !t.low[c] {
		return fmt.Errorf("%w: %s", ErrFacetNotPending, c)
	}
	t.confirmed[c] = true
	return nil
}

func (t *FacetTracker) Low() []Component {
	return keys(t.low)
}

func (t *FacetTracker) Confirmed() []Component {
	return keys(t.confirmed)
}

// Pending lists low facets still waiting for confirmation.
func (t *FacetTracker) Pending() []Component {
	var out []Component
	for c := range t.low {
		if !t.confirmed[c] {
			out = append(out, c)
		}
	}
	sortComponents(out)
	return out
}

func (t *FacetTracker) AllConfirmed() bool {
	return len(t.Pending()) == 0
}

func keys(m map[Component]bool) []Component {
	out := make([]Component, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sortComponents(out)
	return out
}
