package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"duet/internal/app"
	"duet/internal/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		backend    string
		boltPath   string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Store-and-forward relay for duet",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Default()
			if configPath != "" {
				var err error
				if cfg, err = app.LoadFile(configPath); err != nil {
					return err
				}
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			if backend != "" {
				cfg.Relay.Backend = backend
			}
			if boltPath != "" {
				cfg.Relay.BoltPath = boltPath
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.FixupAndValidate(); err != nil {
				return err
			}

			log, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, err := app.NewRelayNode(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer node.Close()

			log.Info("starting relay",
				zap.String("listen", cfg.Relay.Listen),
				zap.String("backend", cfg.Relay.Backend),
				zap.Duration("max_message_age", cfg.Guard.MaxMessageAge.Duration),
				zap.Duration("max_clock_skew", cfg.Guard.MaxClockSkew.Duration))
			return node.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "TOML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default "+app.DefaultListen+")")
	cmd.Flags().StringVar(&backend, "backend", "", "storage backend: memory, bolt, redis, postgres")
	cmd.Flags().StringVar(&boltPath, "bolt", "", "bbolt database file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.SetContext(context.Background())
	return cmd
}
