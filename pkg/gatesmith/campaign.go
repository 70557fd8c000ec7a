package gatesmith

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatesmith/internal/campaign"
)

var errProgressLost = errors.New("no progress persisted due to I/O failure")

// CampaignRequest evolves several goals against the shared library.
// Every goal gets the Template settings; a non-zero Template.Seed is offset
// by the goal's position so goals do not share a random stream.
type CampaignRequest struct {
	Goals       []string
	Template    EvolveRequest
	Concurrency int
	// MaxRetries re-runs a goal whose run could not persist any progress.
	MaxRetries int
	Backoff    time.Duration
}

type CampaignResult struct {
	Goal      string         `json:"goal"`
	Attempts  int            `json:"attempts"`
	Failed    bool           `json:"failed"`
	LastError string         `json:"last_error,omitempty"`
	Summary   *EvolveSummary `json:"summary,omitempty"`
}

// Campaign runs one evolution per goal, at most Concurrency at a time, and
// returns the results in request order. An unknown goal fails the whole
// request before anything runs.
func (c *Client) Campaign(ctx context.Context, req CampaignRequest) ([]CampaignResult, error) {
	if len(req.Goals) == 0 {
		return nil, errors.New("at least one goal is required")
	}
	names := make([]string, 0, len(req.Goals))
	for _, name := range req.Goals {
		g, err := c.goals.Resolve(name)
		if err != nil {
			return nil, err
		}
		names = append(names, g.Name())
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	summaries := make([]*EvolveSummary, len(names))
	jobs := make([]campaign.Job, 0, len(names))
	for i, name := range names {
		i, name := i, name
		evolveReq := req.Template
		evolveReq.Goal = name
		if evolveReq.Seed != 0 {
			evolveReq.Seed += int64(i)
		}
		jobs = append(jobs, campaign.Job{
			Name: name,
			Run: func(ctx context.Context, attempt int) error {
				summary, err := c.Evolve(ctx, evolveReq)
				if summary.RunID != "" {
					summaries[i] = &summary
				}
				if err != nil {
					return err
				}
				if summary.ProgressLost {
					return fmt.Errorf("%s attempt %d: %w", name, attempt, errProgressLost)
				}
				return nil
			},
		})
	}

	runner := campaign.NewWithHooks(campaign.Policy{
		Concurrency:    req.Concurrency,
		MaxRetries:     req.MaxRetries,
		InitialBackoff: req.Backoff,
	}, campaign.Hooks{
		OnRetry: func(name string, err error, attempt int) {
			c.logger.Warn("campaign goal retrying", "goal", name, "attempt", attempt, "error", err)
		},
		OnFailure: func(name string, err error, attempts int) {
			c.logger.Error("campaign goal failed", "goal", name, "attempts", attempts, "error", err)
		},
	})
	statuses, runErr := runner.Run(ctx, jobs)

	results := make([]CampaignResult, len(names))
	for i, name := range names {
		results[i] = CampaignResult{Goal: name, Summary: summaries[i]}
		if i < len(statuses) {
			results[i].Attempts = statuses[i].Attempts
			results[i].Failed = statuses[i].Failed
			results[i].LastError = statuses[i].LastError
		}
	}
	return results, runErr
}
