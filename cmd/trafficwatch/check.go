package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trafficwatch/internal/processor"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a single poll cycle and exit",
		Long: `check runs one poll cycle with the configured alerting and exits. It fails
when the server list cannot be loaded; unreachable servers are reported
through the notifier like in watch mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}

			p, err := processor.New(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			sum, runErr := p.RunOnce(ctx)
			closeErr := p.Close()
			if runErr != nil {
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "servers=%d failures=%d alerts=%d duration=%s\n",
				sum.Servers, sum.Failures, sum.Alerts, sum.Duration.Round(time.Millisecond))
			return closeErr
		},
	}
	cmd.Flags().String("servers-file", "servers.json", "JSON file listing the servers to poll")
	return cmd
}
