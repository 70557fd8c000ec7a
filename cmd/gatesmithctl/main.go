package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gatesmith/internal/config"
	"gatesmith/internal/logging"
	"gatesmith/internal/metrics"
	"gatesmith/pkg/gatesmith"
)

const serviceName = "gatesmithctl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	store      string
	path       string
	logLevel   string
	logJSON    bool
	logDir     string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "gatesmithctl",
		Short:         "Evolve small logic circuits and query the circuit library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&opts.store, "store", "", "library backend: files, memory, badger or sqlite")
	flags.StringVar(&opts.path, "path", "", "library directory, or database file for sqlite")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "force JSON log output")
	flags.StringVar(&opts.logDir, "log-dir", "", "also append JSON logs to a daily file in this directory")

	root.AddCommand(
		newEvolveCmd(opts),
		newCampaignCmd(opts),
		newSearchCmd(opts),
		newBestCmd(opts),
		newLoadCmd(opts),
		newListCmd(opts),
		newStatsCmd(opts),
		newGoalsCmd(opts),
		newRunsCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// session is everything a subcommand needs, built from config and flags.
type session struct {
	cfg     config.Config
	logger  *logging.Logger
	client  *gatesmith.Client
	metrics *metrics.Metrics
}

// loadConfig reads the config file and applies the global flags that were
// set explicitly.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Library.Backend = o.store
	}
	if flags.Changed("path") {
		cfg.Library.Path = o.path
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = o.logJSON
	}
	if flags.Changed("log-dir") {
		cfg.Logging.Dir = o.logDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *globalOptions) open(cmd *cobra.Command, withMetrics bool) (*session, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openSession(cmd, cfg, withMetrics)
}

func openSession(cmd *cobra.Command, cfg config.Config, withMetrics bool) (*session, error) {
	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		JSON:    cfg.Logging.JSON,
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if withMetrics {
		m = metrics.New()
	}
	client, err := gatesmith.NewFromConfig(cfg, logger.Slog(), m)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, client: client, metrics: m}, nil
}

func (s *session) Close() error {
	err := s.client.Close()
	if lerr := s.logger.Close(); err == nil {
		err = lerr
	}
	return err
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
