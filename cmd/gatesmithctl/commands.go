package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gatesmith/internal/config"
	"gatesmith/pkg/gatesmith"
)

// engineFlags are the evolution settings shared by evolve and campaign.
type engineFlags struct {
	seed           int64
	parallel       bool
	selection      string
	runScopedIDs   bool
	maxGenerations int
	progressEvery  int
	metricsAddr    string
}

func (f *engineFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int64Var(&f.seed, "seed", 0, "random seed; 0 picks one from the clock")
	flags.BoolVar(&f.parallel, "parallel", false, "run the mutation strategies concurrently")
	flags.StringVar(&f.selection, "selection", "", "candidate selector: resonance or fitness_first")
	flags.BoolVar(&f.runScopedIDs, "run-scoped-ids", false, "tag record ids with the run so runs never overwrite each other")
	flags.IntVar(&f.maxGenerations, "max-generations", 0, "override the goal's generation budget")
	flags.IntVar(&f.progressEvery, "progress-every", 0, "log progress every N generations; 0 disables")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while evolving")
}

// loadConfig layers the explicitly set engine flags over the global config.
func (f *engineFlags) loadConfig(cmd *cobra.Command, opts *globalOptions) (config.Config, error) {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Engine.Seed = f.seed
	}
	if flags.Changed("parallel") {
		cfg.Engine.Parallel = f.parallel
	}
	if flags.Changed("selection") {
		cfg.Engine.Selection = f.selection
	}
	if flags.Changed("run-scoped-ids") {
		cfg.Engine.RunScopedIDs = f.runScopedIDs
	}
	if flags.Changed("max-generations") {
		cfg.Engine.MaxGenerations = f.maxGenerations
	}
	if flags.Changed("progress-every") {
		cfg.Engine.ProgressEvery = f.progressEvery
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func evolveRequest(cfg config.Config, goalName string) gatesmith.EvolveRequest {
	return gatesmith.EvolveRequest{
		Goal:           goalName,
		Seed:           cfg.Engine.Seed,
		Parallel:       cfg.Engine.Parallel,
		Selection:      cfg.Engine.Selection,
		RunScopedIDs:   cfg.Engine.RunScopedIDs,
		MaxGenerations: cfg.Engine.MaxGenerations,
		ProgressEvery:  cfg.Engine.ProgressEvery,
	}
}

// serveMetrics exposes the session's metrics until the returned stop
// function is called. It is a no-op when metrics are disabled.
func (s *session) serveMetrics(ctx context.Context) func() {
	if s.metrics == nil {
		return func() {}
	}
	serveCtx, stop := context.WithCancel(ctx)
	addr := s.cfg.Metrics.Addr
	go func() {
		if err := s.metrics.Serve(serveCtx, addr, s.logger.Slog()); err != nil {
			s.logger.Slog().Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return stop
}

func newEvolveCmd(opts *globalOptions) *cobra.Command {
	var (
		engine  engineFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "evolve <goal>",
		Short: "Evolve a circuit for a goal, warm-starting from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cfg, cfg.Metrics.Addr != "")
			if err != nil {
				return err
			}
			defer s.Close()
			stopServing := s.serveMetrics(cmd.Context())
			defer stopServing()

			summary, runErr := s.client.Evolve(cmd.Context(), evolveRequest(cfg, args[0]))
			if summary.RunID == "" {
				return runErr
			}
			if err := printEvolveSummary(cmd, summary, jsonOut); err != nil {
				return err
			}
			return runErr
		},
	}
	engine.bind(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the outcome as JSON")
	return cmd
}

func newCampaignCmd(opts *globalOptions) *cobra.Command {
	var (
		engine      engineFlags
		all         bool
		concurrency int
		maxRetries  int
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "campaign [goal...]",
		Short: "Evolve several goals concurrently against the shared library",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("name goals or pass --all, not both")
			}
			if concurrency <= 0 {
				return fmt.Errorf("concurrency must be positive, got %d", concurrency)
			}
			if maxRetries < 0 {
				return fmt.Errorf("max-retries must not be negative, got %d", maxRetries)
			}
			cfg, err := engine.loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cfg, cfg.Metrics.Addr != "")
			if err != nil {
				return err
			}
			defer s.Close()
			stopServing := s.serveMetrics(cmd.Context())
			defer stopServing()

			goals := args
			if all {
				items, err := s.client.Goals(cmd.Context())
				if err != nil {
					return err
				}
				for _, item := range items {
					goals = append(goals, item.Name)
				}
			}

			results, runErr := s.client.Campaign(cmd.Context(), gatesmith.CampaignRequest{
				Goals:       goals,
				Template:    evolveRequest(cfg, ""),
				Concurrency: concurrency,
				MaxRetries:  maxRetries,
			})
			if results == nil {
				return runErr
			}
			if jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				return runErr
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, result := range results {
				if result.Summary == nil {
					fmt.Fprintf(out, "goal=%s attempts=%d state=NOT_RUN\n", result.Goal, result.Attempts)
				} else {
					fmt.Fprintf(out, "goal=%s attempts=%d state=%s fitness=%d generations=%d circuit=%s\n",
						result.Goal,
						result.Attempts,
						result.Summary.State,
						result.Summary.Fitness,
						result.Summary.Generations,
						result.Summary.Diagram,
					)
				}
				if result.Failed {
					failed++
					fmt.Fprintf(out, "  failed: %s\n", result.LastError)
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d goals failed", failed, len(results))
			}
			return nil
		},
	}
	engine.bind(cmd)
	flags := cmd.Flags()
	flags.BoolVar(&all, "all", false, "evolve every registered goal")
	flags.IntVar(&concurrency, "concurrency", 2, "how many goals evolve at once")
	flags.IntVar(&maxRetries, "max-retries", 1, "re-run a goal whose progress could not be saved")
	flags.BoolVar(&jsonOut, "json", false, "emit the results as JSON")
	return cmd
}

func printEvolveSummary(cmd *cobra.Command, summary gatesmith.EvolveSummary, jsonOut bool) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		return writeJSON(out, summary)
	}
	fmt.Fprintf(out, "run_id=%s goal=%s state=%s fitness=%d generations=%d gates=%d seed=%d warm_start=%t\n",
		summary.RunID,
		summary.Goal,
		summary.State,
		summary.Fitness,
		summary.Generations,
		len(summary.Circuit),
		summary.Seed,
		summary.WarmStarted,
	)
	fmt.Fprintf(out, "circuit: %s\n", summary.Diagram)
	fmt.Fprintf(out, "status: %s\n", summary.Status)
	if len(summary.Persisted) > 0 {
		fmt.Fprintf(out, "persisted: %s\n", strings.Join(summary.Persisted, ", "))
	}
	if summary.PersistFailures > 0 {
		fmt.Fprintf(out, "warning: %d milestone(s) could not be saved\n", summary.PersistFailures)
	}
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(out, "report: %s\n", summary.ArtifactsDir)
	}
	return nil
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		goalName   string
		minFitness int
		limit      int
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the library by goal and minimum fitness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if minFitness < 0 || minFitness > 100 {
				return errors.New("min-fitness must be in [0, 100]")
			}
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.client.Search(cmd.Context(), gatesmith.SearchRequest{Goal: goalName, MinFitness: minFitness, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no circuits found")
				return nil
			}
			for _, record := range records {
				fmt.Fprintln(out, record.String())
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&goalName, "goal", "", "goal name; empty matches every goal")
	flags.IntVar(&minFitness, "min-fitness", 0, "minimum fitness percentage")
	flags.IntVar(&limit, "limit", 20, "max records to list; 0 lists all")
	flags.BoolVar(&jsonOut, "json", false, "emit records as JSON")
	return cmd
}

func newBestCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "best <goal>",
		Short: "Show the best circuit recorded for a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			record, ok, err := s.client.Best(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "no circuit recorded for goal %s\n", args[0])
				return nil
			}
			if jsonOut {
				return writeJSON(out, record)
			}
			fmt.Fprintln(out, record.String())
			fmt.Fprintf(out, "gates: %s\n", strings.Join(record.Circuit, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the record as JSON")
	return cmd
}

func newLoadCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "Load a stored circuit by record id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.client.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, record)
			}
			fmt.Fprintln(out, record.String())
			fmt.Fprintf(out, "gates: %s\n", strings.Join(record.Circuit, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the record as JSON")
	return cmd
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		top     int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every goal in the library with its best circuits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			summaries, err := s.client.Summaries(cmd.Context(), top)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "library is empty")
				return nil
			}
			for _, summary := range summaries {
				fmt.Fprintf(out, "%s (%d records)\n", summary.Goal, summary.Count)
				for _, record := range summary.Top {
					fmt.Fprintf(out, "  %s\n", record.String())
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 3, "best records to show per goal; 0 shows all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit summaries as JSON")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show library size and coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend=%s path=%s\n%s\n", s.cfg.Library.Backend, s.cfg.Library.Path, st.String())
			return nil
		},
	}
}

func newGoalsCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "List the goals that can be evolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.client.Goals(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, items)
			}
			for _, item := range items {
				solved := ""
				if item.Solved {
					solved = " solved"
				}
				fmt.Fprintf(out, "%-16s complexity=%-3d budget=%-6d best=%d%%%s  %s\n",
					item.Name, item.Complexity, item.MaxGenerations, item.BestFitness, solved, item.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit goals as JSON")
	return cmd
}

func newRunsCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List reported evolution runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "run_id=%s created_at=%s goal=%s state=%s seed=%d generations=%d fitness=%d\n",
					e.RunID, e.CreatedAtUTC, e.Goal, e.State, e.Seed, e.Generations, e.Fitness)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	cmd.AddCommand(newRunsShowCmd(opts), newRunsExportCmd(opts))
	return cmd
}

func newRunsShowCmd(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run report with its fitness improvements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.client.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, report)
			}
			fmt.Fprintf(out, "run_id=%s goal=%s state=%s fitness=%d generations=%d seed=%d selection=%s\n",
				report.Config.RunID, report.Config.Goal, report.Outcome.State, report.Outcome.Fitness,
				report.Outcome.Generations, report.Config.Seed, report.Config.Selection)
			fmt.Fprintf(out, "status: %s\n", report.Outcome.Status)
			for _, imp := range report.Improvements {
				fmt.Fprintf(out, "  gen=%d fitness=%d gates=%d strategy=%s\n", imp.Generation, imp.Fitness, imp.Gates, imp.Strategy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the report as JSON")
	return cmd
}

func newRunsExportCmd(opts *globalOptions) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Copy a run report into another directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			dir, err := s.client.ExportRun(cmd.Context(), args[0], outDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s to=%s\n", args[0], dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "exports", "destination directory")
	return cmd
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow library updates written by other processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := s.client.Init(ctx); err != nil {
				return err
			}
			return s.client.Watch(ctx, func(reloadErr error) {
				if reloadErr != nil {
					fmt.Fprintf(out, "reload failed: %v\n", reloadErr)
					return
				}
				st, err := s.client.Stats(ctx)
				if err != nil {
					fmt.Fprintf(out, "reload failed: %v\n", err)
					return
				}
				fmt.Fprintf(out, "reloaded: %s\n", st.String())
			})
		},
	}
}
