package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// StageStats summarizes the retained samples of one session stage.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	// OverTarget counts retained samples slower than the stage target.
	OverTarget int  `json:"over_target,omitempty"`
	Breaching  bool `json:"breaching,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// Latency targets for the stages the manager reports.
var stageTargets = map[string]time.Duration{
	"speak_queue_wait":        250 * time.Millisecond,
	"listen_queue_wait":       250 * time.Millisecond,
	"speak_first_audio":       400 * time.Millisecond,
	"listen_first_transcript": 900 * time.Millisecond,
}

// ring holds the most recent len(buf) durations.
type ring struct {
	buf  []time.Duration
	n    int
	head int
	last time.Duration
}

func (r *ring) add(d time.Duration) {
	r.buf[r.head] = d
	r.head = (r.head + 1) % len(r.buf)
	r.n = min(r.n+1, len(r.buf))
	r.last = d
}

func (r *ring) sortedMS() []float64 {
	out := make([]float64, r.n)
	for i, d := range r.buf[:r.n] {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	slices.Sort(out)
	return out
}

// stageWindow keeps the last size durations per stage plus event counters.
type stageWindow struct {
	mu         sync.Mutex
	size       int
	stages     map[string]*ring
	indicators map[string]int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	w := &stageWindow{size: size}
	w.clear()
	return w
}

func (w *stageWindow) clear() {
	w.stages = make(map[string]*ring)
	w.indicators = make(map[string]int)
}

func (w *stageWindow) Observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.stages[stage]
	if !ok {
		r = &ring{buf: make([]time.Duration, w.size)}
		w.stages[stage] = r
	}
	r.add(d)
}

func (w *stageWindow) ObserveIndicator(name string) {
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.stages)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.stages)) {
		r := w.stages[stage]
		if r.n == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarizeStage(stage, r))
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func summarizeStage(stage string, r *ring) StageStats {
	ms := r.sortedMS()
	sum := 0.0
	for _, v := range ms {
		sum += v
	}
	st := StageStats{
		Stage:   stage,
		Samples: len(ms),
		LastMS:  round2(float64(r.last) / float64(time.Millisecond)),
		AvgMS:   round2(sum / float64(len(ms))),
		P50MS:   round2(quantile(ms, 0.50)),
		P95MS:   round2(quantile(ms, 0.95)),
		P99MS:   round2(quantile(ms, 0.99)),
	}
	if target, ok := stageTargets[stage]; ok {
		st.TargetP95MS = float64(target.Milliseconds())
		for _, v := range slices.Backward(ms) {
			if v <= st.TargetP95MS {
				break
			}
			st.OverTarget++
		}
		st.Breaching = st.P95MS > st.TargetP95MS
	}
	return st
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clear()
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
