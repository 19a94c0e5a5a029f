package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-price-harvester/config"
)

// errCategoriesFailed makes the process exit non-zero after a partial run.
var errCategoriesFailed = errors.New("one or more categories failed")

type rootFlags struct {
	configPath  string
	workers     int
	categories  []string
	output      string
	format      string
	metricsAddr string
	verbose     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errCategoriesFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "harvester",
		Short:         "Polite, resilient price harvesting across configured search categories.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(newLogger(flags.verbose))
		},
	}

	bindRootFlags(root, flags)
	root.AddCommand(newRunCmd(flags), newScheduleCmd(flags), newRobotsCmd(flags))
	return root
}

func bindRootFlags(cmd *cobra.Command, flags *rootFlags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "harvester.yaml", "Path to the YAML configuration file")
	pf.IntVar(&flags.workers, "workers", 0, "Categories harvested concurrently (overrides config)")
	pf.StringSliceVar(&flags.categories, "category", nil, "Harvest only the named categories (repeatable)")
	pf.StringVar(&flags.output, "output", "", "Export committed records to this file")
	pf.StringVar(&flags.format, "format", "", "Export format: csv, json, or dual")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads the config file, applies flag overrides and validates
// the result. Any failure here is fatal for the command.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, cmd, flags); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Verbose && !flags.verbose {
		slog.SetDefault(newLogger(true))
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, cmd *cobra.Command, flags *rootFlags) error {
	changed := cmd.Flags().Changed
	if changed("workers") {
		cfg.Workers = flags.workers
	}
	if changed("output") {
		cfg.Export.OutputFile = flags.output
		if cfg.Export.OutputFormat == "" {
			cfg.Export.OutputFormat = "csv"
		}
	}
	if changed("format") {
		cfg.Export.OutputFormat = flags.format
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
	if len(flags.categories) > 0 {
		jobs, err := selectJobs(cfg.Categories, flags.categories)
		if err != nil {
			return err
		}
		cfg.Categories = jobs
	}
	return nil
}

// selectJobs keeps the configured jobs named in names, in config order.
func selectJobs(jobs []config.CategoryJob, names []string) ([]config.CategoryJob, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	selected := make([]config.CategoryJob, 0, len(names))
	for _, job := range jobs {
		if wanted[job.Name] {
			selected = append(selected, job)
			delete(wanted, job.Name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown category %q", n)
	}
	return selected, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
