package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-price-harvester/policy"
)

func newRobotsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "robots <url>",
		Short: "Report whether the configured user agent may fetch a URL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			target, err := url.Parse(args[0])
			if err != nil || target.Host == "" {
				return fmt.Errorf("invalid url %q", args[0])
			}

			checker := policy.NewRobotsChecker(nil, cfg.Policy.UserAgent, cfg.Policy.RobotsTimeout)
			verdict := "allowed"
			if !checker.IsAllowed(cmd.Context(), target.String()) {
				verdict = "disallowed"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s for %q\n", target, verdict, cfg.Policy.UserAgent)
			if delay := checker.CrawlDelay(target.Host); delay > 0 {
				fmt.Fprintf(out, "crawl-delay: %s\n", delay)
			}
			return nil
		},
	}
}
