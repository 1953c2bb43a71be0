package metrics

import (
	"sort"
	"sync"
	"time"
)

// sample is one recorded observation.
type sample struct {
	at    time.Time
	value float64
}

// series is one named metric's rolling buffer.
type series struct {
	samples []sample
	count   int64 // lifetime count, survives eviction
	sum     float64
}

// WindowCollector keeps recent observations per metric name and answers
// quantile queries over a sliding time window. It backs the operational
// snapshot endpoint; long-term aggregation belongs to the OTel registry.
type WindowCollector struct {
	mu     sync.Mutex
	window time.Duration
	series map[string]*series
	now    func() time.Time
}

// DefaultWindow is the snapshot lookback.
const DefaultWindow = 5 * time.Minute

// NewWindowCollector creates a collector with the given lookback; zero
// means DefaultWindow.
func NewWindowCollector(window time.Duration) *WindowCollector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &WindowCollector{
		window: window,
		series: make(map[string]*series),
		now:    time.Now,
	}
}

// Observe records one value for a metric name.
func (c *WindowCollector) Observe(name string, value float64) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[name]
	if !ok {
		s = &series{}
		c.series[name] = s
	}
	s.samples = append(s.samples, sample{at: now, value: value})
	s.count++
	s.sum += value
	c.evictLocked(s, now)
}

// evictLocked drops samples older than the window. Samples arrive in time
// order, so the live region is a suffix.
func (c *WindowCollector) evictLocked(s *series, now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

// Stat is one metric's snapshot over the window.
type Stat struct {
	Count         int     `json:"count"`
	LifetimeCount int64   `json:"lifetime_count"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	P50           float64 `json:"p50"`
	P95           float64 `json:"p95"`
	P99           float64 `json:"p99"`
}

// Snapshot computes per-metric stats over the current window. Metrics whose
// window is empty report only the lifetime count.
func (c *WindowCollector) Snapshot() map[string]Stat {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Stat, len(c.series))
	for name, s := range c.series {
		c.evictLocked(s, now)

		stat := Stat{LifetimeCount: s.count}
		if len(s.samples) > 0 {
			values := make([]float64, len(s.samples))
			for i, smp := range s.samples {
				values[i] = smp.value
			}
			sort.Float64s(values)

			var sum float64
			for _, v := range values {
				sum += v
			}
			stat.Count = len(values)
			stat.Min = values[0]
			stat.Max = values[len(values)-1]
			stat.Mean = sum / float64(len(values))
			stat.P50 = quantile(values, 0.50)
			stat.P95 = quantile(values, 0.95)
			stat.P99 = quantile(values, 0.99)
		}
		out[name] = stat
	}
	return out
}

// quantile uses nearest-rank on a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
