// Package reliability keeps a bounded historical sample window per
// transition and computes exact success-rate and percentile statistics
// over it. Samples outlive individual runs; eviction is FIFO by time
// once the window's count cap or age limit is exceeded.
package reliability

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/qontinui/treeline/internal/domain"
)

// WindowConfig bounds the per-transition sample window.
type WindowConfig struct {
	MaxSamples int
	MaxAge     time.Duration
}

// DefaultWindowConfig keeps up to 1000 samples for 30 days.
var DefaultWindowConfig = WindowConfig{
	MaxSamples: 1000,
	MaxAge:     30 * 24 * time.Hour,
}

// window is one transition's retained samples, oldest first.
type window struct {
	mu      sync.Mutex
	samples []domain.ReliabilitySample
}

// Engine maintains the per-transition windows. The windows are the only
// cross-run shared mutable structure; each is guarded by its own lock
// and reads copy the samples out before sorting.
type Engine struct {
	cfg WindowConfig

	mu      sync.RWMutex
	windows map[string]*window
	// byWorkflow indexes transition keys per workflow for aggregate
	// queries.
	byWorkflow map[string]map[string]bool
}

// NewEngine creates a reliability engine with the given window bounds.
func NewEngine(cfg WindowConfig) *Engine {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultWindowConfig.MaxSamples
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultWindowConfig.MaxAge
	}
	return &Engine{
		cfg:        cfg,
		windows:    make(map[string]*window),
		byWorkflow: make(map[string]map[string]bool),
	}
}

// Record appends one sample to the transition's window and evicts
// anything past the window bounds.
func (e *Engine) Record(sample domain.ReliabilitySample) {
	w := e.windowFor(sample.TransitionID, sample.WorkflowID)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, sample)
	w.evict(e.cfg, time.Now())
}

func (e *Engine) windowFor(transitionID, workflowID string) *window {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.windows[transitionID]
	if !ok {
		w = &window{}
		e.windows[transitionID] = w
	}
	if workflowID != "" {
		set, ok := e.byWorkflow[workflowID]
		if !ok {
			set = make(map[string]bool)
			e.byWorkflow[workflowID] = set
		}
		set[transitionID] = true
	}
	return w
}

// evict drops samples beyond the age limit, then beyond the count cap,
// oldest first. Caller holds the window lock.
func (w *window) evict(cfg WindowConfig, now time.Time) {
	cutoff := now.Add(-cfg.MaxAge)
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append([]domain.ReliabilitySample(nil), w.samples[i:]...)
	}
	if over := len(w.samples) - cfg.MaxSamples; over > 0 {
		w.samples = append([]domain.ReliabilitySample(nil), w.samples[over:]...)
	}
}

// snapshot copies the samples newer than the window start out of the
// window so stats can sort without a mutation-during-sort hazard.
func (w *window) snapshot(since time.Time) []domain.ReliabilitySample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.ReliabilitySample, 0, len(w.samples))
	for _, s := range w.samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// TransitionStats computes stats for one transition over the retained
// window, optionally narrowed to samples newer than `window` ago
// (zero means the full retained window). Returns nil for unknown keys.
func (e *Engine) TransitionStats(transitionID string, windowAge time.Duration) *domain.ReliabilityStats {
	e.mu.RLock()
	w, ok := e.windows[transitionID]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	since := time.Time{}
	if windowAge > 0 {
		since = time.Now().Add(-windowAge)
	}
	stats := compute(w.snapshot(since))
	stats.TransitionID = transitionID
	return &stats
}

// WorkflowStats aggregates all of a workflow's transition samples into
// one stats record.
func (e *Engine) WorkflowStats(workflowID string, windowAge time.Duration) *domain.ReliabilityStats {
	e.mu.RLock()
	keys := make([]string, 0, len(e.byWorkflow[workflowID]))
	for k := range e.byWorkflow[workflowID] {
		keys = append(keys, k)
	}
	windows := make([]*window, 0, len(keys))
	for _, k := range keys {
		if w, ok := e.windows[k]; ok {
			windows = append(windows, w)
		}
	}
	e.mu.RUnlock()
	if len(windows) == 0 {
		return nil
	}

	since := time.Time{}
	if windowAge > 0 {
		since = time.Now().Add(-windowAge)
	}
	var all []domain.ReliabilitySample
	for _, w := range windows {
		all = append(all, w.snapshot(since)...)
	}
	stats := compute(all)
	stats.WorkflowID = workflowID
	return &stats
}

// WorkflowTransitionStats returns per-transition stats for every
// transition observed under the workflow, sorted by transition id.
func (e *Engine) WorkflowTransitionStats(workflowID string, windowAge time.Duration) []domain.ReliabilityStats {
	e.mu.RLock()
	keys := make([]string, 0, len(e.byWorkflow[workflowID]))
	for k := range e.byWorkflow[workflowID] {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	sort.Strings(keys)

	out := make([]domain.ReliabilityStats, 0, len(keys))
	for _, k := range keys {
		if s := e.TransitionStats(k, windowAge); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// compute derives the stats record from a point-in-time sample copy.
func compute(samples []domain.ReliabilitySample) domain.ReliabilityStats {
	stats := domain.ReliabilityStats{FailureModes: []domain.FailureMode{}}
	stats.TotalExecutions = len(samples)
	if len(samples) == 0 {
		return stats
	}

	durations := make([]int64, 0, len(samples))
	var durationSum int64
	failures := make(map[string]int)
	for _, s := range samples {
		if s.DurationMs != nil {
			durations = append(durations, *s.DurationMs)
			durationSum += *s.DurationMs
		}
		if s.Success {
			stats.SuccessfulExecutions++
		} else {
			stats.FailedExecutions++
			tag := s.ErrorType
			if tag == "" {
				tag = "unknown"
			}
			failures[tag]++
		}
	}
	stats.SuccessRate = float64(stats.SuccessfulExecutions) / float64(stats.TotalExecutions) * 100

	// Samples with unobserved durations count toward rates only; an
	// unknown duration is not a 0ms one.
	if len(durations) > 0 {
		stats.AvgDurationMs = durationSum / int64(len(durations))
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		stats.MedianDurationMs = median(durations)
		stats.P95DurationMs = percentile95(durations)
	}

	for tag, n := range failures {
		stats.FailureModes = append(stats.FailureModes, domain.FailureMode{ErrorType: tag, Count: n})
	}
	sort.Slice(stats.FailureModes, func(i, j int) bool {
		if stats.FailureModes[i].Count != stats.FailureModes[j].Count {
			return stats.FailureModes[i].Count > stats.FailureModes[j].Count
		}
		return stats.FailureModes[i].ErrorType < stats.FailureModes[j].ErrorType
	})
	return stats
}

// median is the middle element of the sorted durations, averaging the
// two middles on an even count.
func median(sorted []int64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentile95 is the element at ceil(0.95*n)-1, 0-indexed.
func percentile95(sorted []int64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(0.95*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
