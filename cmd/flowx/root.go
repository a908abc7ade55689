package main

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/wgong/flowx/internal/config"
	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/storage"
)

// app carries what every subcommand needs once configuration is loaded
type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
	log     *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "flowx",
		Short:         "Run benchmarks and monitor the resources they use",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newMonitorCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newSubmitCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

// init loads .env, the config file and FLOWX_* overrides, then builds the
// logger and starts watching the file for level changes
func (a *app) init() error {
	// a missing .env is fine
	_ = godotenv.Load()

	a.loader = config.NewLoader(a.cfgFile)
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logger.NewWithConfig(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}, "flowx")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.loader.Watch(func(c *config.Config) {
		if err := a.log.SetLevel(c.Logging.Level); err != nil {
			a.log.Warn("Ignoring log level from reloaded config", logger.Fields{"error": err})
			return
		}
		a.log.Info("Config reloaded", logger.Fields{"level": c.Logging.Level})
	}, func(err error) {
		a.log.Warn("Config reload failed", logger.Fields{"error": err})
	})

	return nil
}

// redisStore connects to Redis when it is enabled. The returned client is
// nil when Redis is disabled.
func (a *app) redisStore(ctx context.Context) (*redis.Client, *storage.RedisStorage, error) {
	if !a.cfg.Redis.Enabled {
		return nil, nil, nil
	}
	client, err := storage.NewClient(ctx, a.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, storage.NewRedisStorage(client), nil
}
