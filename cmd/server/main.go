package main

import (
	"os"

	"limitbook/config"
	"limitbook/infra/logging"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "limitbook",
		Short:         "Single instrument limit order matching engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")

	root.AddCommand(newServeCmd(opts), newReplayCmd(opts))
	return root
}

func loadConfig(opts *rootOptions) (config.Config, *logging.Logger, error) {
	cfg, _, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logging.NewLoggerFromEnv(cfg.Log.Env)
	log.SetLevel(logging.ParseLevel(cfg.Log.Level))
	return cfg, log, nil
}
