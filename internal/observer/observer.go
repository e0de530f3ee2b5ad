// Package observer collects per-pipeline metrics for a run and watches
// worktrees for agent file activity.
package observer

import (
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/ob1/internal/domain"
)

// Observer monitors agent pipelines and collects metrics
type Observer struct {
	stuckThreshold time.Duration

	running     map[string]time.Time
	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	Agent        string
	Status       domain.OutcomeStatus
	Published    bool
	FilesTouched int
	Duration     time.Duration
	CompletedAt  time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalCompleted int
	TotalSucceeded int
	TotalFailed    int
	TotalPublished int
	FilesTouched   int
	AvgDuration    time.Duration
	MaxDuration    time.Duration
}

// New creates a new Observer. A zero stuckThreshold disables Stuck.
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		running:        make(map[string]time.Time),
	}
}

// Started marks a pipeline as running
func (o *Observer) Started(agent string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[agent] = time.Now()
}

// RecordOutcome records a finished pipeline
func (o *Observer) RecordOutcome(out domain.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.running, out.Agent)
	o.completions = append(o.completions, completion{
		Agent:        out.Agent,
		Status:       out.Status,
		Published:    out.Published,
		FilesTouched: out.FilesTouched,
		Duration:     out.Duration(),
		CompletedAt:  time.Now(),
	})
}

// Running returns the agents whose pipelines have not finished, sorted
func (o *Observer) Running() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := make([]string, 0, len(o.running))
	for name := range o.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stuck returns running agents that exceeded the stuck threshold, with how
// long each has been running
func (o *Observer) Stuck() map[string]time.Duration {
	if o.stuckThreshold <= 0 {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()

	stuck := make(map[string]time.Duration)
	for name, started := range o.running {
		if elapsed := time.Since(started); elapsed > o.stuckThreshold {
			stuck[name] = elapsed
		}
	}
	return stuck
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, c := range o.completions {
		metrics.TotalCompleted++
		if c.Status == domain.OutcomeSuccess {
			metrics.TotalSucceeded++
		} else {
			metrics.TotalFailed++
		}
		if c.Published {
			metrics.TotalPublished++
		}
		metrics.FilesTouched += c.FilesTouched
		totalDuration += c.Duration
		if c.Duration > metrics.MaxDuration {
			metrics.MaxDuration = c.Duration
		}
	}

	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalCompleted)
	}

	return metrics
}
