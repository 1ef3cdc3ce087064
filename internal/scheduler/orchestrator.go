package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"daymark/internal/types"
)

// Orchestrator owns the lifecycle of the registered jobs: one goroutine per
// job fires it on its schedule, runs never overlap themselves, and
// cumulative stats feed the ops API. The pipeline runs as a single
// scheduler instance; the in-process overlap guard is the only run
// exclusion, and the conditional database updates inside each job make
// even an accidental second instance safe, just wasteful.
type Orchestrator struct {
	metrics JobMetrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[JobName]*jobEntry
	order   []JobName
	started bool
}

type jobEntry struct {
	job      Job
	schedule Schedule
	stats    JobStats
	inFlight bool
}

// NewOrchestrator creates an empty Orchestrator.
func NewOrchestrator(metrics JobMetrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		metrics: metrics,
		logger:  logger,
		entries: make(map[JobName]*jobEntry),
	}
}

// Register adds a job with its schedule. Must be called before Run.
func (o *Orchestrator) Register(job Job, schedule Schedule) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("cannot register job %q after start", job.Name())
	}
	if _, exists := o.entries[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}
	if schedule.Interval <= 0 && schedule.DailyAtUTC == nil {
		return fmt.Errorf("job %q has no schedule", job.Name())
	}

	o.entries[job.Name()] = &jobEntry{job: job, schedule: schedule}
	o.order = append(o.order, job.Name())
	return nil
}

// Run fires each registered job on its schedule until ctx is cancelled,
// then waits for in-flight runs to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.started = true
	names := make([]JobName, len(o.order))
	copy(names, o.order)
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			o.loop(gctx, name)
			return nil
		})
	}

	o.logger.InfoContext(ctx, "orchestrator started", "jobs", len(names))
	_ = g.Wait()
	o.logger.Info("orchestrator stopped")
	return ctx.Err()
}

// loop drives one job. Interval jobs fire on a ticker; daily jobs sleep
// until the next wall-clock occurrence.
func (o *Orchestrator) loop(ctx context.Context, name JobName) {
	o.mu.Lock()
	entry := o.entries[name]
	o.mu.Unlock()

	if entry.schedule.DailyAtUTC != nil {
		o.loopDaily(ctx, name, *entry.schedule.DailyAtUTC)
		return
	}
	o.loopInterval(ctx, name, entry.schedule.Interval)
}

func (o *Orchestrator) loopDaily(ctx context.Context, name JobName, wc WallClock) {
	for {
		next := wc.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			o.fire(ctx, name, next)
		}
	}
}

func (o *Orchestrator) loopInterval(ctx context.Context, name JobName, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.fire(ctx, name, now)
		}
	}
}

// TriggerNow runs the named job immediately with the current time as its
// reference instant. Used by the ops API for manual backfills.
func (o *Orchestrator) TriggerNow(ctx context.Context, name JobName) (RunStats, error) {
	o.mu.Lock()
	_, ok := o.entries[name]
	o.mu.Unlock()
	if !ok {
		return RunStats{}, fmt.Errorf("unknown job %q", name)
	}
	return o.fire(ctx, name, time.Now())
}

// fire executes one run of the named job if no run is already in flight.
func (o *Orchestrator) fire(ctx context.Context, name JobName, now time.Time) (RunStats, error) {
	o.mu.Lock()
	entry := o.entries[name]
	if entry.inFlight {
		o.mu.Unlock()
		// The previous run is still going; overlapping it would double-scan
		// the same records. Skip this tick.
		o.logger.WarnContext(ctx, "skipping tick, previous run still in flight", "job", string(name))
		return RunStats{}, fmt.Errorf("job %q already running", name)
	}
	entry.inFlight = true
	started := time.Now()
	entry.stats.InFlight = true
	entry.stats.LastStartedAt = started
	o.mu.Unlock()

	traceID := fmt.Sprintf("%s-%d", name, started.UnixNano())
	runCtx := types.WithTraceID(ctx, traceID)
	o.logger.InfoContext(runCtx, "job run starting", "job", string(name), "trace_id", traceID)

	stats, err := entry.job.Run(runCtx, now)
	duration := time.Since(started)

	o.mu.Lock()
	entry.inFlight = false
	entry.stats.InFlight = false
	entry.stats.Runs++
	entry.stats.LastFinishedAt = time.Now()
	entry.stats.LastDuration = duration.String()
	entry.stats.LastRun = stats
	if err != nil {
		entry.stats.Failures++
		entry.stats.LastError = err.Error()
	} else {
		entry.stats.LastError = ""
	}
	o.mu.Unlock()

	o.metrics.RecordRun(runCtx, name, err == nil, duration)
	o.metrics.RecordCounters(runCtx, name, stats)

	if err != nil {
		o.logger.ErrorContext(runCtx, "job run failed",
			"job", string(name),
			"duration", duration.String(),
			"error", err,
		)
		return stats, err
	}

	o.logger.InfoContext(runCtx, "job run finished",
		"job", string(name),
		"duration", duration.String(),
	)
	return stats, nil
}

// Stats returns a snapshot of every job's cumulative stats.
func (o *Orchestrator) Stats() map[JobName]JobStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[JobName]JobStats, len(o.entries))
	for name, entry := range o.entries {
		out[name] = entry.stats
	}
	return out
}

// Health reports whether every job is keeping up with its schedule: each
// job must have completed a run within twice its cadence, and its last
// completed run must have succeeded. Jobs that have not yet had a chance
// to run are considered healthy during warmup.
func (o *Orchestrator) Health(now time.Time) (bool, map[JobName]string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	healthy := true
	detail := make(map[JobName]string, len(o.entries))
	for name, entry := range o.entries {
		cadence := entry.schedule.cadence()
		switch {
		case entry.stats.Runs == 0:
			detail[name] = "pending first run"
		case entry.stats.LastError != "":
			healthy = false
			detail[name] = "last run failed: " + entry.stats.LastError
		case now.Sub(entry.stats.LastFinishedAt) > 2*cadence:
			healthy = false
			detail[name] = fmt.Sprintf("stale: last run finished %s ago", now.Sub(entry.stats.LastFinishedAt).Round(time.Second))
		default:
			detail[name] = "ok"
		}
	}
	return healthy, detail
}
