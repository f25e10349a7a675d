package attendance

import (
	"maps"
	"time"
)

// Policy holds the scoring rules applied to detection events. The zero value applies no
// penalties; build one with DefaultPolicy or NewPolicy.
type Policy struct {
	penalties map[Signal]int
	window    time.Duration
	threshold int
}

// DefaultPolicy returns the standard penalty table with a 60s debounce window and an
// engagement threshold of 50.
func DefaultPolicy() Policy {
	return NewPolicy(map[Signal]int{
		SignalSleeping:    20,
		SignalYawning:     5,
		SignalLaughing:    10,
		SignalPhoneUsage:  15,
		SignalLookingAway: 3,
	}, 60*time.Second, 50)
}

// NewPolicy copies penalties so later changes to the map do not leak into the policy.
func NewPolicy(penalties map[Signal]int, window time.Duration, threshold int) Policy {
	return Policy{penalties: maps.Clone(penalties), window: window, threshold: threshold}
}

// Penalty returns the points deducted for a signal.
func (p Policy) Penalty(s Signal) int { return p.penalties[s] }

// Window is the debounce window for repeated signals of one type.
func (p Policy) Window() time.Duration { return p.window }

// Threshold is the score at or below which an AI-sourced present record is downgraded at
// session end.
func (p Policy) Threshold() int { return p.threshold }

// Apply deducts penalties for the active signals observed at the given time. A signal is
// debounced when the record already holds a behavior of that type less than Window away.
// The score never drops below 0. Callers must not apply signals to od records.
func (p Policy) Apply(r *Record, signals Signals, at time.Time) (applied, debounced []Signal) {
	for _, sig := range signals.Active() {
		penalty := p.penalties[sig]
		if penalty <= 0 {
			continue
		}
		if p.recent(r, sig, at) {
			debounced = append(debounced, sig)
			continue
		}
		r.Behaviors = append(r.Behaviors, Behavior{SignalType: sig, Timestamp: at, Penalty: penalty})
		r.EngagementScore = max(0, r.EngagementScore-penalty)
		applied = append(applied, sig)
	}
	return applied, debounced
}

func (p Policy) recent(r *Record, sig Signal, at time.Time) bool {
	for i := len(r.Behaviors) - 1; i >= 0; i-- {
		b := r.Behaviors[i]
		if b.SignalType != sig {
			continue
		}
		d := at.Sub(b.Timestamp)
		if d < 0 {
			d = -d
		}
		if d < p.window {
			return true
		}
	}
	return false
}

// BelowThreshold reports whether a record should be downgraded to absent at session end.
func (p Policy) BelowThreshold(r Record) bool {
	return r.Status == StatusPresent && r.Source == SourceAI && r.EngagementScore <= p.threshold
}
