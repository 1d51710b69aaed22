package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Record(t *testing.T) {
	p := NewTracker()
	p.Record("forward", 10*time.Millisecond)
	p.Record("forward", 30*time.Millisecond)
	p.Record("batch", 5*time.Millisecond)

	s, ok := p.Stats("forward")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, 40*time.Millisecond, s.Total)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.Equal(t, 20*time.Millisecond, s.Mean)

	summary := p.Summary()
	require.Len(t, summary, 2)
	assert.Equal(t, "batch", summary[0].Name)
	assert.Equal(t, "forward", summary[1].Name)
}

func TestTracker_StartOperation(t *testing.T) {
	p := NewTracker()
	done := p.StartOperation("load")
	done()

	s, ok := p.Stats("load")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Count)
	assert.GreaterOrEqual(t, s.Total, time.Duration(0))
}

func TestTracker_NilIsNoop(t *testing.T) {
	var p *Tracker
	p.StartOperation("x")()
	p.Record("x", time.Second)
	_, ok := p.Stats("x")
	assert.False(t, ok)
	assert.Nil(t, p.Summary())
	assert.Equal(t, time.Duration(0), p.Elapsed())
}
