package profiler

import (
	"runtime"
	"slices"
	"time"

	"github.com/Carmen-Shannon/nebula-go/engine/framegraph"
	"github.com/Carmen-Shannon/nebula-go/engine/logger"
	"go.uber.org/zap"
)

// Report is one interval of frame statistics.
type Report struct {
	Frames  int
	Elapsed time.Duration
	FPS     float64

	// Passes holds the average recording time per frame of every frame graph callback,
	// in first-seen order.
	Passes []framegraph.PassTiming

	HeapMB      float64
	SysMB       float64
	AllocRateMB float64
	GCCount     uint32
	LastPauseUs uint64
	MaxPauseUs  uint64
}

// Profiler tracks frame rate, per-pass CPU time and memory statistics and logs a Report
// every interval.
type Profiler struct {
	log            *zap.Logger
	now            func() time.Time
	updateInterval time.Duration

	frameCount int
	lastTime   time.Time
	passes     []framegraph.PassTiming
	index      map[string]int

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Report
}

// NewProfiler creates a Profiler. The interval defaults to 1 second.
//
// Parameters:
//   - options: functional options such as WithLogger and WithInterval
//
// Returns:
//   - *Profiler: the profiler
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		now:            time.Now,
		updateInterval: time.Second,
		index:          make(map[string]int),
	}
	for _, option := range options {
		option(p)
	}
	p.log = logger.OrNop(p.log).Named("profiler")
	p.lastTime = p.now()
	return p
}

// Tick should be called once per frame with the timings of the frame graph run. When the
// interval has elapsed it logs a Report and starts a new interval.
//
// Parameters:
//   - timings: the per-callback recording times of the frame
//
// Returns:
//   - bool: true if a report was logged this tick
func (p *Profiler) Tick(timings []framegraph.PassTiming) bool {
	p.frameCount++
	for _, t := range timings {
		i, ok := p.index[t.Name]
		if !ok {
			i = len(p.passes)
			p.index[t.Name] = i
			p.passes = append(p.passes, framegraph.PassTiming{Name: t.Name})
		}
		p.passes[i].Duration += t.Duration
	}

	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	r := p.report(elapsed)
	fields := []zap.Field{
		zap.Float64("fps", r.FPS),
		zap.Float64("heapMB", r.HeapMB),
		zap.Float64("allocRateMB", r.AllocRateMB),
		zap.Uint32("gc", r.GCCount),
		zap.Uint64("lastPauseUs", r.LastPauseUs),
		zap.Uint64("maxPauseUs", r.MaxPauseUs),
		zap.Float64("sysMB", r.SysMB),
	}
	for _, pass := range r.Passes {
		fields = append(fields, zap.Duration(pass.Name, pass.Duration))
	}
	p.log.Info("frame stats", fields...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.passes = p.passes[:0]
	clear(p.index)
	p.last = r
	return true
}

func (p *Profiler) report(elapsed time.Duration) Report {
	r := Report{
		Frames:  p.frameCount,
		Elapsed: elapsed,
		FPS:     float64(p.frameCount) / elapsed.Seconds(),
		Passes:  slices.Clone(p.passes),
	}
	for i := range r.Passes {
		r.Passes[i].Duration /= time.Duration(p.frameCount)
	}

	runtime.ReadMemStats(&p.memStats)
	r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	r.SysMB = float64(p.memStats.Sys) / 1024 / 1024
	r.AllocRateMB = float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 pauses
	r.GCCount = p.memStats.NumGC
	if r.GCCount > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(r.GCCount-1)%256] / 1000
		start := p.lastGCCount
		if r.GCCount-start > 256 {
			start = r.GCCount - 256
		}
		for i := start; i < r.GCCount; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}
	p.lastGCCount = r.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return r
}

// Last returns the most recent Report.
func (p *Profiler) Last() Report {
	return p.last
}
