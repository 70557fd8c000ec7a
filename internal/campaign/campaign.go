// Package campaign runs a batch of evolution jobs against one shared
// library, bounding concurrency and retrying jobs that fail.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrPermanent marks a job error that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

type Policy struct {
	// Concurrency bounds how many jobs run at once. Zero or less runs them
	// one at a time.
	Concurrency    int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

type Hooks struct {
	OnRetry   func(name string, err error, attempt int)
	OnFailure func(name string, err error, attempts int)
}

// Job is one unit of work. attempt starts at 1.
type Job struct {
	Name string
	Run  func(ctx context.Context, attempt int) error
}

type Status struct {
	Name      string `json:"name"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Failed    bool   `json:"failed"`
}

func defaultPolicy() Policy {
	return Policy{
		Concurrency:    1,
		MaxRetries:     0,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func normalizePolicy(policy Policy) Policy {
	def := defaultPolicy()
	if policy.Concurrency <= 0 {
		policy.Concurrency = def.Concurrency
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = def.MaxRetries
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

type Runner struct {
	policy Policy
	hooks  Hooks
}

func New(policy Policy) *Runner {
	return NewWithHooks(policy, Hooks{})
}

func NewWithHooks(policy Policy, hooks Hooks) *Runner {
	return &Runner{policy: normalizePolicy(policy), hooks: hooks}
}

func (r *Runner) Policy() Policy {
	return r.policy
}

// Run executes every job and returns their statuses in job order. A failed
// job does not stop the others; only cancellation of ctx makes Run return
// an error.
func (r *Runner) Run(ctx context.Context, jobs []Job) ([]Status, error) {
	seen := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, errors.New("job name is required")
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s has no runner", job.Name)
		}
		if _, dup := seen[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job: %s", job.Name)
		}
		seen[job.Name] = struct{}{}
	}

	statuses := make([]Status, len(jobs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.policy.Concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			status, err := r.runJob(gctx, job)
			mu.Lock()
			statuses[i] = status
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return statuses, err
	}
	return statuses, nil
}

func (r *Runner) runJob(ctx context.Context, job Job) (Status, error) {
	status := Status{Name: job.Name}
	backoff := r.policy.InitialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return status, err
		}
		status.Attempts++
		err := job.Run(ctx, status.Attempts)
		if err == nil {
			status.LastError = ""
			return status, nil
		}
		status.LastError = err.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status, ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return status, err
		}
		if errors.Is(err, ErrPermanent) || status.Attempts > r.policy.MaxRetries {
			status.Failed = true
			if r.hooks.OnFailure != nil {
				r.hooks.OnFailure(job.Name, err, status.Attempts)
			}
			return status, nil
		}
		if r.hooks.OnRetry != nil {
			r.hooks.OnRetry(job.Name, err, status.Attempts)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		case <-timer.C:
		}
		next := time.Duration(float64(backoff) * r.policy.BackoffFactor)
		if next > r.policy.MaxBackoff {
			next = r.policy.MaxBackoff
		}
		backoff = next
	}
}
