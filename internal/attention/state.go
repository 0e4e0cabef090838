package attention

import (
	"sync"
	"time"
)

// State is the derived attentiveness state.
type State string

const (
	StateUnknown    State = "unknown"
	StateAttentive  State = "attentive"
	StateDistracted State = "distracted"
)

const (
	attentiveAbove    = 0.65
	distractedBelow   = 0.4
	maxDistractedSecs = 5
	scoreWeight       = 0.6
	postureWeight     = 0.4
)

// StateInterval is how often a monitor re-derives the state.
const StateInterval = 300 * time.Millisecond

// Blend combines score and posture into the value the thresholds apply to.
func Blend(score, posture float64) float64 {
	return scoreWeight*score + postureWeight*posture
}

// NextState applies the hysteresis rule. Inside [0.4, 0.65] the current state is kept.
func NextState(current State, blended float64, timeDistracted int) State {
	switch {
	case blended > attentiveAbove:
		return StateAttentive
	case blended < distractedBelow || timeDistracted > maxDistractedSecs:
		return StateDistracted
	case current == "":
		return StateUnknown
	default:
		return current
	}
}

// Tracker holds the state between readings.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker starts in StateUnknown.
func NewTracker() *Tracker { return &Tracker{state: StateUnknown} }

// Observe feeds one reading through NextState and returns the new state.
func (t *Tracker) Observe(r Reading) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = NextState(t.state, Blend(r.AttentionScore, r.Posture), r.TimeDistractedSeconds)
	return t.state
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
