// Package mockserver implements the mockserver sub-command.
package mockserver

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/mockbackend"
)

// Command returns the mockserver command.
func Command(settings *conf.Settings) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "mockserver",
		Short: "Run an in-memory storefront backend for development",
		Long: `Run an in-memory backend implementing the REST endpoints and the /ws
realtime feed. POST /api/orders/{id}/status {"status":"SHIPPED"} emits an
order update to the logged-in user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cliutil.SignalContext(cmd)
			defer stop()

			mb := settings.MockBackend
			if listen != "" {
				mb.Listen = listen
			}
			srv, err := mockbackend.New(&mb)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock backend on %s, login with %s\n", mb.Listen, mb.Email)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	return cmd
}
