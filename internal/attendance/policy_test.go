package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 20, p.Penalty(SignalSleeping))
	assert.Equal(t, 5, p.Penalty(SignalYawning))
	assert.Equal(t, 10, p.Penalty(SignalLaughing))
	assert.Equal(t, 15, p.Penalty(SignalPhoneUsage))
	assert.Equal(t, 3, p.Penalty(SignalLookingAway))
	assert.Equal(t, time.Minute, p.Window())
	assert.Equal(t, 50, p.Threshold())
}

func TestNewPolicyCopiesTable(t *testing.T) {
	table := map[Signal]int{SignalYawning: 7}
	p := NewPolicy(table, time.Minute, 50)
	table[SignalYawning] = 99
	assert.Equal(t, 7, p.Penalty(SignalYawning))
}

func TestPolicyApply(t *testing.T) {
	p := DefaultPolicy()
	t0 := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)

	t.Run("all signals in fixed order", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 100}
		applied, debounced := p.Apply(&rec, Signals{true, true, true, true, true}, t0)
		assert.Equal(t, []Signal{SignalSleeping, SignalYawning, SignalLaughing, SignalPhoneUsage, SignalLookingAway}, applied)
		assert.Empty(t, debounced)
		assert.Equal(t, 100-53, rec.EngagementScore)
		assert.Len(t, rec.Behaviors, 5)
		assert.Equal(t, t0, rec.Behaviors[0].Timestamp)
		assert.Equal(t, 20, rec.Behaviors[0].Penalty)
	})

	t.Run("same type within window is debounced", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 100}
		p.Apply(&rec, Signals{Yawning: true}, t0)
		applied, debounced := p.Apply(&rec, Signals{Yawning: true}, t0.Add(59*time.Second))
		assert.Empty(t, applied)
		assert.Equal(t, []Signal{SignalYawning}, debounced)
		assert.Equal(t, 95, rec.EngagementScore)
		assert.Len(t, rec.Behaviors, 1)
	})

	t.Run("out of order event inside window is debounced", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 100}
		p.Apply(&rec, Signals{Yawning: true}, t0)
		_, debounced := p.Apply(&rec, Signals{Yawning: true}, t0.Add(-30*time.Second))
		assert.Equal(t, []Signal{SignalYawning}, debounced)
	})

	t.Run("window boundary applies again", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 100}
		p.Apply(&rec, Signals{Yawning: true}, t0)
		applied, _ := p.Apply(&rec, Signals{Yawning: true}, t0.Add(time.Minute))
		assert.Equal(t, []Signal{SignalYawning}, applied)
		assert.Equal(t, 90, rec.EngagementScore)
	})

	t.Run("score floors at zero", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 30}
		p.Apply(&rec, Signals{Sleeping: true, PhoneUsage: true}, t0)
		assert.Equal(t, 0, rec.EngagementScore)
		p.Apply(&rec, Signals{Laughing: true}, t0)
		assert.Equal(t, 0, rec.EngagementScore)
	})

	t.Run("zero policy applies nothing", func(t *testing.T) {
		rec := Record{Status: StatusPresent, EngagementScore: 100}
		applied, _ := Policy{}.Apply(&rec, Signals{Sleeping: true}, t0)
		assert.Empty(t, applied)
		assert.Equal(t, 100, rec.EngagementScore)
	})
}

func TestBelowThreshold(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.BelowThreshold(Record{Status: StatusPresent, Source: SourceAI, EngagementScore: 50}))
	assert.False(t, p.BelowThreshold(Record{Status: StatusPresent, Source: SourceAI, EngagementScore: 51}))
	assert.False(t, p.BelowThreshold(Record{Status: StatusOD, Source: SourceOD, EngagementScore: 0}))
	assert.False(t, p.BelowThreshold(Record{Status: StatusAbsent, Source: SourceAI, EngagementScore: 0}))
}
