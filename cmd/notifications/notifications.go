// Package notifications implements the notification sub-commands.
package notifications

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/app"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/notification"
)

// Command returns the notifications command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List and manage notifications",
	}
	cmd.AddCommand(
		listCommand(settings),
		readCommand(settings),
		readAllCommand(settings),
		deleteCommand(settings),
	)
	return cmd
}

// withRefreshed opens the app, fetches the list and runs fn.
func withRefreshed(cmd *cobra.Command, settings *conf.Settings, fn func(a *app.App) error) error {
	a, err := cliutil.OpenApp(settings)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := cliutil.RequireLogin(a); err != nil {
		return err
	}
	if err := a.Notifications.Refresh(cmd.Context()); err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}
	return fn(a)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch and print notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRefreshed(cmd, settings, func(a *app.App) error {
				return printList(cmd, a.Notifications.Notifications(), a.Notifications.UnreadCount(), unreadOnly)
			})
		},
	}
	cmd.Flags().BoolVarP(&unreadOnly, "unread", "u", false, "Only show unread notifications")
	return cmd
}

func printList(cmd *cobra.Command, list []*notification.Notification, unread int, unreadOnly bool) error {
	tw := cliutil.Table(cmd)
	fmt.Fprintln(tw, "ID\tTYPE\tREAD\tCREATED\tTITLE\tMESSAGE")
	for _, n := range list {
		if unreadOnly && n.Read {
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s\n",
			n.ID, n.Type, n.Read, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title, n.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d notifications, %d unread\n", len(list), unread)
	return nil
}

func readCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cliutil.ParseID("notification", args[0])
			if err != nil {
				return err
			}
			return withRefreshed(cmd, settings, func(a *app.App) error {
				if err := a.Notifications.MarkAsRead(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notification %d marked as read, %d unread\n", id, a.Notifications.UnreadCount())
				return nil
			})
		},
	}
}

func readAllCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRefreshed(cmd, settings, func(a *app.App) error {
				if err := a.Notifications.MarkAllAsRead(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "all notifications marked as read")
				return nil
			})
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a notification",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cliutil.ParseID("notification", args[0])
			if err != nil {
				return err
			}
			return withRefreshed(cmd, settings, func(a *app.App) error {
				if err := a.Notifications.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notification %d deleted\n", id)
				return nil
			})
		},
	}
}
