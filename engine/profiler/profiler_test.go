package profiler

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestTickReportsEveryInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithLogger(zap.New(core)), WithInterval(time.Second), withClock(clock.now))

	timings := []framegraph.PassTiming{
		{Name: "GBuffer", Duration: 2 * time.Millisecond},
		{Name: "Lights", Duration: 4 * time.Millisecond},
	}
	for range 9 {
		clock.advance(100 * time.Millisecond)
		assert.False(t, p.Tick(timings))
	}
	clock.advance(100 * time.Millisecond)
	require.True(t, p.Tick(timings))

	r := p.Last()
	assert.Equal(t, 10, r.Frames)
	assert.InDelta(t, 10, r.FPS, 1e-9)
	require.Len(t, r.Passes, 2)
	assert.Equal(t, "GBuffer", r.Passes[0].Name)
	assert.Equal(t, 2*time.Millisecond, r.Passes[0].Duration)
	assert.Equal(t, 4*time.Millisecond, r.Passes[1].Duration)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "frame stats", entry.Message)
	assert.Contains(t, entry.ContextMap(), "GBuffer")
}

func TestIntervalResetsPassTotals(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := NewProfiler(WithInterval(time.Second), withClock(clock.now))

	clock.advance(time.Second)
	require.True(t, p.Tick([]framegraph.PassTiming{{Name: "A", Duration: time.Millisecond}}))
	clock.advance(time.Second)
	require.True(t, p.Tick([]framegraph.PassTiming{{Name: "B", Duration: time.Millisecond}}))

	r := p.Last()
	require.Len(t, r.Passes, 1)
	assert.Equal(t, "B", r.Passes[0].Name)
	assert.Equal(t, 1, r.Frames)
}

func TestWithConfigSetsTheInterval(t *testing.T) {
	p := NewProfiler(WithConfig(config.Profiler{Enabled: true, IntervalSeconds: 2.5}))
	assert.Equal(t, 2500*time.Millisecond, p.updateInterval)

	p = NewProfiler(WithConfig(config.Profiler{}))
	assert.Equal(t, time.Second, p.updateInterval)
}
