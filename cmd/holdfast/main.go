// Package main is the entrypoint for the holdfast CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wrenhollis/holdfast/internal/borg"
	"github.com/wrenhollis/holdfast/internal/config"
	"github.com/wrenhollis/holdfast/internal/history"
	"github.com/wrenhollis/holdfast/internal/metrics"
	"github.com/wrenhollis/holdfast/internal/notify"
	"github.com/wrenhollis/holdfast/internal/orchestrator"
	"github.com/wrenhollis/holdfast/internal/remote"
	"github.com/wrenhollis/holdfast/internal/replication"
	"github.com/wrenhollis/holdfast/internal/runner"
	"github.com/wrenhollis/holdfast/internal/services"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "holdfast",
		Short: "Holdfast - homelab backup pipeline",
		Long: `Holdfast backs up the host, router, and Pi-hole into borg
repositories, replicates the primary repository to S3 behind a size
threshold, prunes old archives, and notifies the operator of the outcome.

Run 'holdfast check' to verify the configuration and required tools.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.holdfast/config.yml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(&cfgPath),
		newStartCmd(&cfgPath),
		newCheckCmd(&cfgPath),
		newHistoryCmd(&cfgPath),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Holdfast %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backup pass",
		Long: `Run the full backup pipeline once: collect remote device
configuration, suspend docker containers, create archives in the primary
and secondary repositories, prune, replicate, and notify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(*cfgPath, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate sources without persisting archives")

	return cmd
}

func runOnce(cfgPath string, dryRun bool) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if dryRun {
		cfg.DryRun = true
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Last-chance resume: if the run is torn down by a signal before its
	// own deferred resume fires, restart whatever is still stopped. Resume
	// is idempotent so the normal path is unaffected.
	defer orch.Suspender().Resume(context.Background())

	report := orch.Run(ctx)
	if report.ExitCode() != 0 {
		return fmt.Errorf("backup run failed, status %s", report.Status)
	}
	return nil
}

func newStartCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Run holdfast as a long-running daemon executing the backup
pipeline on the cron schedule from the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*cfgPath)
		},
	}
}

func runDaemon(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Schedule == "" {
		return fmt.Errorf("no schedule configured: set 'schedule' to a cron expression")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	defer orch.Suspender().Resume(context.Background())

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Schedule, func() {
		logger.Info().Str("schedule", cfg.Schedule).Msg("cron triggered backup")
		report := orch.Run(ctx)
		if report.ExitCode() != 0 {
			logger.Error().Str("status", string(report.Status)).Msg("scheduled backup failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cfg.Schedule, err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	fmt.Printf("Holdfast %s daemon running, schedule %q. Press Ctrl+C to stop.\n", Version, cfg.Schedule)
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return nil
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify configuration and required tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(*cfgPath)
		},
	}
}

func runCheck(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	fmt.Println("Configuration: OK")

	missing := false
	tools := []string{"borg", "aws", "docker", "tar"}
	if cfg.Transport == config.TransportCLI {
		tools = append(tools, "ssh", "scp")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			fmt.Printf("%-8s MISSING\n", tool)
			missing = true
			continue
		}
		fmt.Printf("%-8s available\n", tool)
	}

	if _, err := os.Stat(cfg.SSHKeyPath); err != nil {
		fmt.Printf("ssh key  %s: %v\n", cfg.SSHKeyPath, err)
		missing = true
	}

	if missing {
		return fmt.Errorf("environment is not ready")
	}
	return nil
}

func newHistoryCmd(cfgPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(*cfgPath, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")

	return cmd
}

func runHistory(cfgPath string, limit int) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)

	dir, err := historyDir(cfg)
	if err != nil {
		return err
	}
	store, err := history.NewStore(dir, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	entries, err := store.List(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSTATUS\tARCHIVES\tFAILED\tREPLICATION\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Status, e.ArchivesCreated, e.ArchivesFailed, e.ReplicationState,
			e.FinishedAt.Sub(e.StartedAt).Round(time.Second))
	}
	return w.Flush()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var out zerolog.LevelWriter
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file %s: %w", cfg.LogPath, err)
		}
		out = zerolog.MultiLevelWriter(console, f)
	} else {
		out = zerolog.MultiLevelWriter(console)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func historyDir(cfg *config.Config) (string, error) {
	if cfg.HistoryDBDir != "" {
		return cfg.HistoryDBDir, nil
	}
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// buildOrchestrator wires the full pipeline from configuration. The returned
// cleanup closes the history store.
func buildOrchestrator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*orchestrator.Orchestrator, func(), error) {
	run := runner.New(logger)

	var transport remote.Transport
	switch cfg.Transport {
	case config.TransportNative:
		transport = remote.NewSSHTransport(cfg.SSHKeyPath, "", logger)
	default:
		transport = remote.NewCLITransport(cfg.SSHKeyPath, run, logger)
	}

	sink := notify.NewPushover(cfg.Pushover, logger)
	borgClient := borg.New(run, logger)

	// Replication still works without bucket statistics, the summary just
	// omits the destination size.
	var stats replication.BucketStatser
	if s, err := replication.NewS3Stats(ctx, cfg.Replication.Profile, logger); err != nil {
		logger.Warn().Err(err).Msg("aws credentials unavailable, bucket size reporting disabled")
	} else {
		stats = s
	}

	var hist *history.Store
	cleanup := func() {}
	if dir, err := historyDir(cfg); err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
	} else if hist, err = history.NewStore(dir, logger); err != nil {
		logger.Warn().Err(err).Msg("run history disabled")
		hist = nil
	} else {
		cleanup = func() { hist.Close() }
	}

	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Collector: remote.NewCollector(transport, run, cfg.StagingDir, logger),
		Suspender: services.NewSuspender(services.NewDockerClient(run, logger), logger),
		Borg:      borgClient,
		Gate:      replication.NewGate(borgClient, sink, stats, cfg.Replication, logger),
		Sink:      sink,
		History:   hist,
		Metrics:   metrics.NewWriter(cfg.MetricsTextfile, logger),
		Logger:    logger,
	})

	return orch, cleanup, nil
}
