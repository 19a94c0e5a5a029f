package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Harvest every configured category once.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.runOnce(ctx)
		},
	}
}

// runOnce harvests every configured category and prints the summary. It
// returns errCategoriesFailed unless every category finished.
func (a *app) runOnce(ctx context.Context) error {
	result, err := a.orchestrator.Run(ctx, a.cfg.Categories)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		slog.Warn("harvest interrupted; committed categories are kept", slog.String("run_id", result.RunID))
	}

	renderSummary(os.Stdout, result, a.cfg.Export.OutputFile)

	if a.writer != nil {
		if err := a.writer.Validate(); err != nil {
			slog.Warn("export validation failed", slog.Any("error", err))
		}
	}
	if !result.Succeeded() {
		return errCategoriesFailed
	}
	return nil
}
