// Package scheduler implements the time-driven jobs of the daymark
// pipeline (candidate discovery, queue admission, missed-delivery
// recovery, and terminal-record archival) plus the orchestrator that owns
// their lifecycle.
package scheduler

import (
	"context"
	"time"
)

// JobName identifies one of the orchestrated jobs.
type JobName string

const (
	JobDiscovery JobName = "discovery"
	JobAdmission JobName = "admission"
	JobRecovery  JobName = "recovery"
	JobArchival  JobName = "archival"
)

// RunStats are the counters produced by a single job run. Which fields a
// job fills depends on the job; zero values mean "not applicable".
type RunStats struct {
	Scanned    int `json:"scanned"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Admitted   int `json:"admitted"`
	Recovered  int `json:"recovered"`
	Exhausted  int `json:"exhausted"`
	Archived   int `json:"archived"`
	Errors     int `json:"errors"`
}

// JobStats is the cumulative operational view of one job, exposed through
// the ops API for the observability collaborator to scrape.
type JobStats struct {
	Runs           int       `json:"runs"`
	Failures       int       `json:"failures"`
	LastStartedAt  time.Time `json:"last_started_at"`
	LastFinishedAt time.Time `json:"last_finished_at"`
	LastDuration   string    `json:"last_duration"`
	LastError      string    `json:"last_error,omitempty"`
	LastRun        RunStats  `json:"last_run"`
	InFlight       bool      `json:"in_flight"`
}

// Job is a unit of scheduled work. Run receives the reference time of the
// tick so runs are deterministic under test and backfillable by manual
// trigger. Implementations own their failure boundary: a single record's
// failure is counted and logged, never returned as the run error.
type Job interface {
	Name() JobName
	Run(ctx context.Context, now time.Time) (RunStats, error)
}

// Schedule describes when a job fires. Exactly one of Interval or
// DailyAtUTC is set.
type Schedule struct {
	// Interval fires the job on a fixed ticker.
	Interval time.Duration
	// DailyAtUTC fires the job once per UTC day at the given wall-clock
	// hour and minute.
	DailyAtUTC *WallClock
}

// WallClock is an hour/minute pair.
type WallClock struct {
	Hour   int
	Minute int
}

// Next returns the first instant after t at which the wall-clock time
// occurs in UTC.
func (w WallClock) Next(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), w.Hour, w.Minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// cadence returns the expected spacing between runs, used by the health
// signal.
func (s Schedule) cadence() time.Duration {
	if s.DailyAtUTC != nil {
		return 24 * time.Hour
	}
	return s.Interval
}
