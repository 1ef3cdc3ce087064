package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"daymark/internal/scheduler"
)

// healthCheckTimeout bounds the total time spent on all probes.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// componentStatus is the per-dependency health state.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON body of GET /health.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// DatabaseProbe pings the connection pool.
type DatabaseProbe struct {
	Pool *pgxpool.Pool
}

func (p *DatabaseProbe) Name() string { return "database" }

func (p *DatabaseProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// QueueProbe verifies the greeting queue is reachable by fetching one of
// its attributes.
type QueueProbe struct {
	Client   QueueAttributesClient
	QueueURL string
}

// QueueAttributesClient abstracts the SQS GetQueueAttributes call for
// testability.
type QueueAttributesClient interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

func (p *QueueProbe) Name() string { return "queue" }

func (p *QueueProbe) Check(ctx context.Context) error {
	_, err := p.Client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(p.QueueURL),
	})
	return err
}

// JobHealth reports whether the scheduled jobs are keeping up. Implemented
// by the scheduler orchestrator.
type JobHealth interface {
	Health(now time.Time) (bool, map[scheduler.JobName]string)
}

// handleHealth runs every probe concurrently under a short deadline. Any
// failing probe, any probe that misses the deadline, or an unhealthy job
// schedule yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make(map[string]probeResult, len(s.probes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("probe panicked: %v", rec)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results[p.Name()] = probeResult{name: p.Name(), err: err}
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	components := make(map[string]componentStatus, len(s.probes)+1)
	healthy := true

	for _, probe := range s.probes {
		name := probe.Name()
		result, finished := results[name]
		switch {
		case !finished:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "probe timed out"}
		case result.err != nil:
			healthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	if s.jobHealth != nil {
		ok, detail := s.jobHealth.Health(time.Now())
		status := componentStatus{Status: "healthy"}
		if !ok {
			healthy = false
			status.Status = "unhealthy"
			for job, msg := range detail {
				if msg != "ok" && msg != "pending first run" {
					status.Message = string(job) + ": " + msg
					break
				}
			}
		}
		components["jobs"] = status
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	JSON(w, status, healthResponse{Status: overall, Components: components})
}
