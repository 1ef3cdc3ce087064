// Package main implements the job-runner CLI for triggering pipeline jobs
// through the scheduler's ops API.
//
// This tool is intended for local development, manual backfilling after an
// incident, and operational debugging. It calls POST /jobs/{job}/run on a
// running scheduler process and prints the run stats.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=discovery
//	go run ./cmd/tools/job-runner --job=recovery --addr=http://scheduler.internal:8080
//	go run ./cmd/tools/job-runner --list
//
// The ops key is read from OPS_API_KEY (or a .env file via godotenv); the
// scheduler only accepts it when OPS_API_KEY_HASH is configured.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"daymark/internal/scheduler"
)

// validJobs is the exhaustive set of jobs the scheduler registers. Kept in
// sync with the registrations in cmd/scheduler/main.go.
var validJobs = map[scheduler.JobName]string{
	scheduler.JobDiscovery: "Scan users and create message records for upcoming events",
	scheduler.JobAdmission: "Admit due records and publish greeting envelopes",
	scheduler.JobRecovery:  "Re-admit stalled QUEUED records past the grace window",
	scheduler.JobArchival:  "Export and delete terminal records past retention",
}

func main() {
	jobFlag := flag.String("job", "", "Job to trigger (e.g. discovery)")
	addrFlag := flag.String("addr", "http://localhost:8080", "Base URL of the scheduler ops server")
	listFlag := flag.Bool("list", false, "List all triggerable jobs and exit")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "How long to wait for the run to finish")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Trigger a pipeline job through the scheduler ops API.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all triggerable jobs.\n")
	}
	flag.Parse()

	if *listFlag {
		printJobs()
		return
	}

	job := scheduler.JobName(*jobFlag)
	if _, ok := validJobs[job]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown job %q\n\n", *jobFlag)
		printJobs()
		os.Exit(1)
	}

	_ = godotenv.Load()
	opsKey := os.Getenv("OPS_API_KEY")
	if opsKey == "" {
		fmt.Fprintln(os.Stderr, "error: OPS_API_KEY is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeoutFlag)
	defer cancel()

	if err := trigger(ctx, *addrFlag, job, opsKey); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func trigger(ctx context.Context, addr string, job scheduler.JobName, opsKey string) error {
	url := fmt.Sprintf("%s/jobs/%s/run", addr, job)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Ops-Key", opsKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling scheduler: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scheduler returned %d: %s", resp.StatusCode, body)
	}

	// Re-indent so stats are readable in a terminal.
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			body = out
		}
	}
	fmt.Printf("%s\n", body)
	return nil
}

func printJobs() {
	fmt.Println("Available jobs:")
	for _, name := range []scheduler.JobName{
		scheduler.JobDiscovery,
		scheduler.JobAdmission,
		scheduler.JobRecovery,
		scheduler.JobArchival,
	} {
		fmt.Printf("  %-10s %s\n", name, validJobs[name])
	}
}
