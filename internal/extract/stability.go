package extract

import (
	"sort"
	"strings"
)

// StabilityState is the debounce state while waiting for a carousel to advance.
type StabilityState int

// Stability states.
const (
	// Stable means the visible set still equals the baseline.
	Stable StabilityState = iota
	// Changing means a changed set was seen but not yet confirmed.
	Changing
	// Confirmed means the same changed set was seen on enough consecutive polls.
	Confirmed
)

func (s StabilityState) String() string {
	switch s {
	case Changing:
		return "changing"
	case Confirmed:
		return "confirmed"
	default:
		return "stable"
	}
}

// stability tracks successive reads of the visible URL set against the set
// that was visible before the advance click.
type stability struct {
	baseline map[string]struct{}
	required int

	state     StabilityState
	signature string
	streak    int
}

func newStability(baseline []string, required int) *stability {
	if required < 1 {
		required = 1
	}
	b := make(map[string]struct{}, len(baseline))
	for _, u := range baseline {
		b[u] = struct{}{}
	}
	return &stability{baseline: b, required: required}
}

// Observe feeds one poll and returns the resulting state.
func (s *stability) Observe(urls []string) StabilityState {
	if s.state == Confirmed {
		return s.state
	}
	if !s.changed(urls) {
		s.state, s.signature, s.streak = Stable, "", 0
		return s.state
	}

	sig := signature(urls)
	if s.state == Changing && sig == s.signature {
		s.streak++
	} else {
		s.state, s.signature, s.streak = Changing, sig, 1
	}
	if s.streak >= s.required {
		s.state = Confirmed
	}
	return s.state
}

// changed reports whether urls contain something outside the baseline. An
// empty read is treated as mid-transition.
func (s *stability) changed(urls []string) bool {
	if len(urls) == 0 {
		return false
	}
	for _, u := range urls {
		if _, ok := s.baseline[u]; !ok {
			return true
		}
	}
	return false
}

func signature(urls []string) string {
	c := append([]string(nil), urls...)
	sort.Strings(c)
	return strings.Join(c, "\n")
}
