package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"trafficwatch/internal/logger"
	"trafficwatch/internal/processor"
)

func addWatchFlags(fs *pflag.FlagSet) {
	fs.String("servers-file", "servers.json", "JSON file listing the servers to poll")
	fs.Int("interval-minutes", 5, "minutes to wait between poll cycles")
	fs.String("http-addr", ":9108", "status server address, empty to disable")
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll every server on an interval and send alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts)
		},
	}
	addWatchFlags(cmd.Flags())
	return cmd
}

func runWatch(parent context.Context, opts *rootOptions) error {
	cfg, err := opts.load(true)
	if err != nil {
		return err
	}

	p, err := processor.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(parent)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		log := logger.WithError(err)
		log.Error().Msg("processor exited")
		return err
	}
	logger.Logger.Info().Msg("exited")
	return nil
}
