package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowCollectorSnapshot(t *testing.T) {
	c := NewWindowCollector(time.Minute)
	for i := 1; i <= 100; i++ {
		c.Observe("stage.transcribe.ms", float64(i))
	}

	snap := c.Snapshot()
	stat, ok := snap["stage.transcribe.ms"]
	require.True(t, ok)

	assert.Equal(t, 100, stat.Count)
	assert.Equal(t, int64(100), stat.LifetimeCount)
	assert.Equal(t, 1.0, stat.Min)
	assert.Equal(t, 100.0, stat.Max)
	assert.InDelta(t, 50.5, stat.Mean, 0.001)
	assert.Equal(t, 50.0, stat.P50)
	assert.Equal(t, 95.0, stat.P95)
	assert.Equal(t, 99.0, stat.P99)
}

func TestWindowCollectorEviction(t *testing.T) {
	c := NewWindowCollector(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.Observe("latency", 10)
	c.Observe("latency", 20)

	// Move past the window; old samples fall out but lifetime count stays.
	current = base.Add(2 * time.Minute)
	c.Observe("latency", 30)

	stat := c.Snapshot()["latency"]
	assert.Equal(t, 1, stat.Count)
	assert.Equal(t, int64(3), stat.LifetimeCount)
	assert.Equal(t, 30.0, stat.Min)
	assert.Equal(t, 30.0, stat.Max)
}

func TestWindowCollectorDefaultLookback(t *testing.T) {
	c := NewWindowCollector(0)
	assert.Equal(t, DefaultWindow, c.window)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.Observe("latency", 10)

	// Four minutes in, the sample is still inside the five-minute window.
	current = base.Add(4 * time.Minute)
	stat := c.Snapshot()["latency"]
	assert.Equal(t, 1, stat.Count)

	current = base.Add(6 * time.Minute)
	stat = c.Snapshot()["latency"]
	assert.Equal(t, 0, stat.Count)
}

func TestWindowCollectorEmptyWindowKeepsLifetime(t *testing.T) {
	c := NewWindowCollector(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	c.Observe("latency", 10)
	current = base.Add(10 * time.Minute)

	stat := c.Snapshot()["latency"]
	assert.Equal(t, 0, stat.Count)
	assert.Equal(t, int64(1), stat.LifetimeCount)
	assert.Equal(t, 0.0, stat.P99)
}

func TestWindowCollectorSingleSample(t *testing.T) {
	c := NewWindowCollector(time.Minute)
	c.Observe("latency", 7)

	stat := c.Snapshot()["latency"]
	assert.Equal(t, 7.0, stat.P50)
	assert.Equal(t, 7.0, stat.P95)
	assert.Equal(t, 7.0, stat.P99)
}

func TestWindowCollectorConcurrentObserve(t *testing.T) {
	c := NewWindowCollector(time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Observe("latency", float64(i))
			}
		}()
	}
	wg.Wait()

	stat := c.Snapshot()["latency"]
	assert.Equal(t, 800, stat.Count)
	assert.Equal(t, int64(800), stat.LifetimeCount)
}
