package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingJob runs until released, to exercise the overlap guard.
type blockingJob struct {
	name    JobName
	release chan struct{}
	runs    int
	mu      sync.Mutex
}

func (j *blockingJob) Name() JobName { return j.name }

func (j *blockingJob) Run(ctx context.Context, _ time.Time) (RunStats, error) {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
			return RunStats{}, ctx.Err()
		}
	}
	return RunStats{Scanned: 1}, nil
}

// staticJob returns fixed results.
type staticJob struct {
	name  JobName
	stats RunStats
	err   error
}

func (j *staticJob) Name() JobName { return j.name }
func (j *staticJob) Run(context.Context, time.Time) (RunStats, error) {
	return j.stats, j.err
}

func TestOrchestrator_Register_Duplicate(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())

	require.NoError(t, orch.Register(&staticJob{name: JobAdmission}, Schedule{Interval: time.Minute}))
	err := orch.Register(&staticJob{name: JobAdmission}, Schedule{Interval: time.Minute})
	require.Error(t, err)
}

func TestOrchestrator_Register_NoSchedule(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	require.Error(t, orch.Register(&staticJob{name: JobAdmission}, Schedule{}))
}

func TestOrchestrator_TriggerNow_RunsJobAndTracksStats(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	job := &staticJob{name: JobDiscovery, stats: RunStats{Scanned: 5, Created: 2}}
	require.NoError(t, orch.Register(job, Schedule{DailyAtUTC: &WallClock{Hour: 0, Minute: 30}}))

	stats, err := orch.TriggerNow(context.Background(), JobDiscovery)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)

	all := orch.Stats()
	assert.Equal(t, 1, all[JobDiscovery].Runs)
	assert.Equal(t, 0, all[JobDiscovery].Failures)
	assert.Equal(t, 5, all[JobDiscovery].LastRun.Scanned)
	assert.False(t, all[JobDiscovery].InFlight)
}

func TestOrchestrator_TriggerNow_UnknownJob(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	_, err := orch.TriggerNow(context.Background(), JobName("nonsense"))
	require.Error(t, err)
}

func TestOrchestrator_TriggerNow_FailureCounted(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	job := &staticJob{name: JobRecovery, err: errors.New("connection refused")}
	require.NoError(t, orch.Register(job, Schedule{Interval: 10 * time.Minute}))

	_, err := orch.TriggerNow(context.Background(), JobRecovery)
	require.Error(t, err)

	stats := orch.Stats()[JobRecovery]
	assert.Equal(t, 1, stats.Failures)
	assert.Contains(t, stats.LastError, "connection refused")
}

func TestOrchestrator_OverlappingRunSkipped(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	job := &blockingJob{name: JobAdmission, release: make(chan struct{})}
	require.NoError(t, orch.Register(job, Schedule{Interval: time.Minute}))

	done := make(chan struct{})
	go func() {
		_, _ = orch.TriggerNow(context.Background(), JobAdmission)
		close(done)
	}()

	// Wait until the first run is in flight.
	require.Eventually(t, func() bool {
		return orch.Stats()[JobAdmission].InFlight
	}, time.Second, 5*time.Millisecond)

	_, err := orch.TriggerNow(context.Background(), JobAdmission)
	require.Error(t, err)

	close(job.release)
	<-done

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Equal(t, 1, job.runs)
}

func TestOrchestrator_Health(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	require.NoError(t, orch.Register(&staticJob{name: JobAdmission}, Schedule{Interval: time.Minute}))
	require.NoError(t, orch.Register(&staticJob{name: JobRecovery}, Schedule{Interval: 10 * time.Minute}))

	// Before any run: healthy warmup state.
	healthy, detail := orch.Health(time.Now())
	assert.True(t, healthy)
	assert.Equal(t, "pending first run", detail[JobAdmission])

	_, err := orch.TriggerNow(context.Background(), JobAdmission)
	require.NoError(t, err)

	healthy, detail = orch.Health(time.Now())
	assert.True(t, healthy)
	assert.Equal(t, "ok", detail[JobAdmission])

	// A run older than twice the cadence is stale.
	healthy, detail = orch.Health(time.Now().Add(3 * time.Minute))
	assert.False(t, healthy)
	assert.Contains(t, detail[JobAdmission], "stale")
}

func TestOrchestrator_Health_FailedLastRun(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	job := &staticJob{name: JobRecovery, err: errors.New("connection refused")}
	require.NoError(t, orch.Register(job, Schedule{Interval: 10 * time.Minute}))

	_, _ = orch.TriggerNow(context.Background(), JobRecovery)

	healthy, detail := orch.Health(time.Now())
	assert.False(t, healthy)
	assert.Contains(t, detail[JobRecovery], "last run failed")
}

func TestWallClock_Next(t *testing.T) {
	wc := WallClock{Hour: 0, Minute: 30}

	// Before today's occurrence: same day.
	at := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 14, 0, 30, 0, 0, time.UTC), wc.Next(at))

	// Exactly at the occurrence: tomorrow.
	at = time.Date(2026, 7, 14, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 15, 0, 30, 0, 0, time.UTC), wc.Next(at))

	// After: tomorrow.
	at = time.Date(2026, 7, 14, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 15, 0, 30, 0, 0, time.UTC), wc.Next(at))
}

func TestOrchestrator_RunFiresIntervalJobs(t *testing.T) {
	orch := NewOrchestrator(NoopJobMetrics{}, testLogger())
	job := &blockingJob{name: JobAdmission}
	require.NoError(t, orch.Register(job, Schedule{Interval: 20 * time.Millisecond}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = orch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return orch.Stats()[JobAdmission].Runs >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
