package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  1,
	}
}

func TestRunnerRetriesFailingJob(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 3
	var retries []int
	runner := NewWithHooks(policy, Hooks{
		OnRetry: func(_ string, _ error, attempt int) {
			retries = append(retries, attempt)
		},
	})

	var calls atomic.Int32
	statuses, err := runner.Run(context.Background(), []Job{{
		Name: "flaky",
		Run: func(context.Context, int) error {
			if calls.Add(1) <= 2 {
				return errors.New("disk full")
			}
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Attempts != 3 || statuses[0].Failed || statuses[0].LastError != "" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected retry attempts: %v", retries)
	}
}

func TestRunnerMarksJobFailedAfterMaxRetries(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 1
	var failedAttempts int
	runner := NewWithHooks(policy, Hooks{
		OnFailure: func(_ string, _ error, attempts int) {
			failedAttempts = attempts
		},
	})

	statuses, err := runner.Run(context.Background(), []Job{
		{Name: "broken", Run: func(context.Context, int) error { return errors.New("boom") }},
		{Name: "fine", Run: func(context.Context, int) error { return nil }},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !statuses[0].Failed || statuses[0].Attempts != 2 || statuses[0].LastError != "boom" {
		t.Fatalf("unexpected broken status: %+v", statuses[0])
	}
	if statuses[1].Failed || statuses[1].Attempts != 1 {
		t.Fatalf("unexpected fine status: %+v", statuses[1])
	}
	if failedAttempts != 2 {
		t.Fatalf("expected failure hook after 2 attempts, got %d", failedAttempts)
	}
}

func TestRunnerDoesNotRetryPermanentErrors(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 5
	runner := New(policy)

	statuses, err := runner.Run(context.Background(), []Job{{
		Name: "unknown-goal",
		Run: func(context.Context, int) error {
			return fmt.Errorf("%w: goal not found", ErrPermanent)
		},
	}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !statuses[0].Failed || statuses[0].Attempts != 1 {
		t.Fatalf("expected a single failed attempt, got %+v", statuses[0])
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	policy := fastPolicy()
	policy.Concurrency = 2
	runner := New(policy)

	var (
		mu      sync.Mutex
		active  int
		peak    int
		release = make(chan struct{})
	)
	jobs := make([]Job, 0, 5)
	for i := 0; i < 5; i++ {
		jobs = append(jobs, Job{
			Name: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context, _ int) error {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				select {
				case <-release:
				case <-time.After(5 * time.Millisecond):
				}
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			},
		})
	}
	statuses, err := runner.Run(context.Background(), jobs)
	close(release)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", peak)
	}
	for i, status := range statuses {
		if status.Name != fmt.Sprintf("job-%d", i) || status.Attempts != 1 {
			t.Fatalf("unexpected status %d: %+v", i, status)
		}
	}
}

func TestRunnerStopsOnCancellation(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRetries = 100
	runner := New(policy)

	ctx, cancel := context.WithCancel(context.Background())
	statuses, err := runner.Run(ctx, []Job{{
		Name: "cancelled",
		Run: func(context.Context, int) error {
			cancel()
			return errors.New("interrupted")
		},
	}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if statuses[0].Attempts != 1 || statuses[0].Failed {
		t.Fatalf("unexpected status: %+v", statuses[0])
	}
}

func TestRunnerRejectsInvalidJobs(t *testing.T) {
	runner := New(Policy{})
	noop := func(context.Context, int) error { return nil }
	if _, err := runner.Run(context.Background(), []Job{{Name: "", Run: noop}}); err == nil {
		t.Fatal("expected missing name error")
	}
	if _, err := runner.Run(context.Background(), []Job{{Name: "x"}}); err == nil {
		t.Fatal("expected missing runner error")
	}
	if _, err := runner.Run(context.Background(), []Job{{Name: "x", Run: noop}, {Name: "x", Run: noop}}); err == nil {
		t.Fatal("expected duplicate job error")
	}
}

func TestNormalizePolicy(t *testing.T) {
	policy := New(Policy{MaxRetries: -1, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 0.5}).Policy()
	if policy.Concurrency != 1 || policy.MaxRetries != 0 {
		t.Fatalf("unexpected limits: %+v", policy)
	}
	if policy.MaxBackoff != 50*time.Millisecond || policy.BackoffFactor != 2 {
		t.Fatalf("unexpected backoff: %+v", policy)
	}
}
