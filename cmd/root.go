// Package cmd wires the storefront CLI.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/login"
	"github.com/tphakala/storefront/cmd/logout"
	"github.com/tphakala/storefront/cmd/mockserver"
	"github.com/tphakala/storefront/cmd/notifications"
	"github.com/tphakala/storefront/cmd/track"
	"github.com/tphakala/storefront/cmd/watch"
	"github.com/tphakala/storefront/cmd/wishlist"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/errors"
	"github.com/tphakala/storefront/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates the root command. settings is filled in by the
// persistent pre-run before any sub-command executes.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront client",
		Long:          "Command line client for the storefront backend: view tracking, wishlist, notifications and live order updates.",
		Version:       conf.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &configFile)

	rootCmd.AddCommand(
		login.Command(settings),
		logout.Command(settings),
		track.Command(settings),
		wishlist.Command(settings),
		notifications.Command(settings),
		watch.Command(settings),
		mockserver.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushSentry(sentryFlushTimeout)
	}

	return rootCmd
}

// initialize sets up logging and error telemetry from settings.
func initialize(settings *conf.Settings) error {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, conf.Version); err != nil {
			central.Module("main").Warn("sentry disabled", logger.Error(err))
		}
	}
	return nil
}

func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ./ and ~/.config/storefront)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("api", "", "Backend API base URL, e.g. http://localhost:8080/api")
	flags.String("realtime-url", "", "Realtime websocket URL, e.g. ws://localhost:8080/ws")
}
