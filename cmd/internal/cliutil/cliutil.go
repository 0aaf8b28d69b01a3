// Package cliutil holds helpers shared by the storefront sub-commands.
package cliutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/internal/app"
	"github.com/tphakala/storefront/internal/conf"
)

// ParseID parses a positive integer argument.
func ParseID(kind, arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q: must be a positive integer", kind, arg)
	}
	return id, nil
}

// OpenApp builds the application for a command run. The caller must Close it.
func OpenApp(settings *conf.Settings, opts ...app.Option) (*app.App, error) {
	a, err := app.New(settings, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	return a, nil
}

// RequireLogin fails when no usable credential is stored.
func RequireLogin(a *app.App) error {
	if !a.Session.IsAuthenticated() {
		return fmt.Errorf("not logged in, run 'storefront login' first")
	}
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// Table returns a tab-aligned writer on the command output.
func Table(cmd *cobra.Command) *tabwriter.Writer {
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
}
