package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"duet/internal/app"
	"duet/internal/logging"
	"duet/internal/store"
)

// PassphraseEnv is read when --passphrase is not given.
const PassphraseEnv = "DUET_PASSPHRASE"

var (
	home       string
	configPath string
	passphrase string
	relayURL   string
	party      string
	logLevel   string

	appCtx *app.Wire
)

// Execute runs the CLI.
func Execute() error {
	root := &cobra.Command{
		Use:           "duet",
		Short:         "End-to-end encrypted messaging between two linked parties",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = os.Getenv(PassphraseEnv)
			}

			url := relayURL
			if url == "" {
				if p, ok, err := store.NewProfileFileStore(cfg.Client.Home).LoadProfile(); err == nil && ok {
					url = p.RelayURL
				}
			}
			w, err := app.NewWire(cfg, url, log)
			if err != nil {
				return err
			}
			appCtx = w
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			_ = appCtx.Log.Sync()
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data directory (default ~/.duet)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (default <home>/config.toml when present)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting your keys (or $"+PassphraseEnv+")")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (default from profile or config)")
	root.PersistentFlags().StringVar(&party, "party", "", "your party ID (default from profile)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		initCmd(),
		restoreCmd(),
		fingerprintCmd(),
		registerCmd(),
		rotatePreKeysCmd(),
		rotateIdentityCmd(),
		startSessionCmd(),
		sendCmd(),
		recvCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*app.Config, error) {
	path := configPath
	if path == "" && home != "" {
		candidate := filepath.Join(home, "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	cfg := app.Default()
	if path != "" {
		var err error
		if cfg, err = app.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if home != "" {
		cfg.Client.Home = home
	}
	if cfg.Client.Home == "" {
		return nil, errors.New("no home directory; use --home")
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	} else if path == "" {
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p or $%s)", PassphraseEnv)
	}
	return nil
}

func logger() *zap.Logger { return appCtx.Log }
