package main

import (
	"github.com/spf13/cobra"

	"trafficwatch/internal/agent"
)

func newAgentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Serve this host's stats for the watcher to poll",
		Long: `agent serves GET /stats in the format the watcher expects. Remaining traffic
is the configured quota minus the network bytes counted since boot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(false)
			if err != nil {
				return err
			}

			a, err := agent.New(cfg.Agent, nil)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.Run(ctx)
		},
	}

	fs := cmd.Flags()
	fs.String("agent-addr", ":8787", "listen address")
	fs.Float64("agent-quota-gb", 0, "monthly traffic quota in GB")
	fs.String("agent-count-mode", "sum", "counters charged to the quota: sum, max, rx or tx")
	fs.String("agent-token", "", "bearer token required on /stats, empty to disable")
	return cmd
}
