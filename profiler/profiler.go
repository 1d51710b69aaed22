// Package profiler - Operation timing for the inference loop.
package profiler

import (
	"sort"
	"sync"
	"time"
)

// Tracker records timing statistics per named operation.
//
// A nil *Tracker is valid and records nothing, so components can take an
// optional tracker without nil checks at every call site.
type Tracker struct {
	mu             sync.Mutex
	startTime      time.Time
	operationTimes map[string]*TimeTracker
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	name      string
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// TimeStats is a snapshot of one operation's timings.
type TimeStats struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Total time.Duration `json:"total"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		startTime:      time.Now(),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Tracker) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one completed operation of the given duration.
func (p *Tracker) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			minTime: duration,
			maxTime: duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Stats returns the statistics of one operation.
func (p *Tracker) Stats(name string) (TimeStats, bool) {
	if p == nil {
		return TimeStats{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.operationTimes[name]
	if !ok {
		return TimeStats{}, false
	}
	return tracker.snapshot(), true
}

// Summary returns the statistics of every operation sorted by name.
func (p *Tracker) Summary() []TimeStats {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeStats, 0, len(p.operationTimes))
	for _, tracker := range p.operationTimes {
		out = append(out, tracker.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Elapsed returns the time since the tracker was created.
func (p *Tracker) Elapsed() time.Duration {
	if p == nil {
		return 0
	}
	return time.Since(p.startTime)
}

func (t *TimeTracker) snapshot() TimeStats {
	s := TimeStats{
		Name:  t.name,
		Count: t.count,
		Total: t.totalTime,
		Min:   t.minTime,
		Max:   t.maxTime,
	}
	if t.count > 0 {
		s.Mean = t.totalTime / time.Duration(t.count)
	}
	return s
}
