package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"trafficwatch/internal/config"
	"trafficwatch/internal/logger"
)

type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "trafficwatch",
		Short: "Traffic quota and load alerts for a fleet of servers",
		Long: `trafficwatch polls a stats endpoint on every configured server and sends
Telegram alerts when remaining traffic crosses a configured percent, or CPU
or RAM usage reaches its limit. Without a subcommand it runs the watcher.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "optional YAML config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded into the environment when present")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	addWatchFlags(cmd.Flags())

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newAgentCmd(opts))
	return cmd
}

// init layers configuration: defaults < config file < .env and process
// environment < flags.
func (o *rootOptions) init(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}

	v := o.v
	config.SetDefaults(v)
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", o.configFile, err)
		}
	}
	v.AutomaticEnv()

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}

	logger.Init(v.GetString("log_level"))
	return nil
}

// bindFlags binds every flag to the viper key with dashes replaced by
// underscores, so --servers-file overrides SERVERS_FILE.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return err
}

func (o *rootOptions) load(validate bool) (*config.Config, error) {
	cfg, err := config.Load(o.v)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
