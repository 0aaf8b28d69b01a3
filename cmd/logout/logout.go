// Package logout implements the logout sub-command.
package logout

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/conf"
)

// Command returns the logout command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token and cached per-user data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cliutil.OpenApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
