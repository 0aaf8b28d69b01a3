// Package wishlist implements the wishlist sub-commands.
package wishlist

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/app"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/errors"
	wl "github.com/tphakala/storefront/internal/wishlist"
)

// Command returns the wishlist command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Check and change wishlist membership",
	}

	cmd.AddCommand(
		productCommand(settings, "check", "Report whether a product is in the wishlist", check),
		productCommand(settings, "toggle", "Add a product if absent, remove it if present", toggle),
		productCommand(settings, "add", "Add a product to the wishlist", add),
		productCommand(settings, "remove", "Remove a product from the wishlist", remove),
		productCommand(settings, "count", "Show how many users have a product in their wishlist", count),
	)
	return cmd
}

type action func(ctx context.Context, cmd *cobra.Command, a *app.App, productID int) error

func productCommand(settings *conf.Settings, use, short string, run action) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <productID>",
		Short: short,
		Args:  cobra.ExactArgs(1),
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

			err = run(cmd.Context(), cmd, a, id)
			if errors.Is(err, wl.ErrLoginRequired) {
				return fmt.Errorf("login required: run 'storefront login' first")
			}
			return err
		},
	}
}

func check(ctx context.Context, cmd *cobra.Command, a *app.App, id int) error {
	in, err := a.Wishlist.CheckMembership(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "product %d in wishlist: %t\n", id, in)
	return nil
}

func toggle(ctx context.Context, cmd *cobra.Command, a *app.App, id int) error {
	res, err := a.Wishlist.ToggleMembership(ctx, id)
	if err != nil {
		return err
	}
	if res.Ignored {
		fmt.Fprintf(cmd.OutOrStdout(), "product %d: toggle already in progress\n", id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "product %d in wishlist: %t\n", id, res.InWishlist)
	return nil
}

func add(ctx context.Context, cmd *cobra.Command, a *app.App, id int) error {
	if err := a.Wishlist.Add(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "product %d added\n", id)
	return nil
}

func remove(ctx context.Context, cmd *cobra.Command, a *app.App, id int) error {
	if err := a.Wishlist.Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "product %d removed\n", id)
	return nil
}

func count(ctx context.Context, cmd *cobra.Command, a *app.App, id int) error {
	n, err := a.Wishlist.WishlistCount(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "product %d wishlist count: %d\n", id, n)
	return nil
}
