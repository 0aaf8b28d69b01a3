// Package login implements the login sub-command.
package login

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/conf"
)

// Command returns the login command.
func Command(settings *conf.Settings) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the bearer token",
		Long: `Exchange email and password for a bearer token. The token is kept in the
durable store and used by every other command until logout or expiry.

The password can also be supplied through STOREFRONT_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("STOREFRONT_PASSWORD")
			}
			if email == "" || password == "" {
				return fmt.Errorf("both --email and --password are required")
			}

			a, err := cliutil.OpenApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Login(cmd.Context(), email, password); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s\n", a.Session.Subject())
			if exp, ok := a.Session.ExpiresAt(); ok {
				fmt.Fprintf(out, "Token expires %s\n", exp.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	return cmd
}
