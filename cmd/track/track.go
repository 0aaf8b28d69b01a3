// Package track implements the track sub-command.
package track

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/conf"
)

// Command returns the track command.
func Command(settings *conf.Settings) *cobra.Command {
	var repeat int

	cmd := &cobra.Command{
		Use:   "track <productID>",
		Short: "Record a product view",
		Long: `Record a product view. Repeated views of the same product on the same day
are answered from the session cache without a network call, also across
invocations until the next login or logout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cliutil.ParseID("product", args[0])
			if err != nil {
				return err
			}

			a, err := cliutil.OpenApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for range max(repeat, 1) {
				res := a.Tracker.TrackView(cmd.Context(), id)
				fmt.Fprintf(out, "product %d: tracked=%t %s\n", id, res.Tracked, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&repeat, "repeat", "r", 1, "Number of times to record the view")
	return cmd
}
