package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	var (
		spec   string
		runNow bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Harvest on a cron schedule until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule, err := cron.ParseStandard(spec)
			if err != nil {
				return fmt.Errorf("invalid cron spec %q: %w", spec, err)
			}

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

			harvest := func() {
				if err := a.runOnce(ctx); err != nil && !errors.Is(err, errCategoriesFailed) {
					slog.Error("scheduled harvest failed", slog.Any("error", err))
				}
			}

			logger := cronLogger{}
			c := cron.New(
				cron.WithLogger(logger),
				cron.WithChain(cron.SkipIfStillRunning(logger)),
			)
			c.Schedule(schedule, cron.FuncJob(harvest))

			if runNow {
				harvest()
			}
			c.Start()
			slog.Info("harvest scheduled",
				slog.String("cron", spec),
				slog.Time("next", schedule.Next(time.Now())),
			)

			<-ctx.Done()
			slog.Info("shutdown signal received, waiting for the running harvest to finish")
			<-c.Stop().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "0 */6 * * *", "Standard five-field cron schedule")
	cmd.Flags().BoolVar(&runNow, "now", false, "Also harvest once immediately")
	return cmd
}

// cronLogger forwards cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
