// Package watch implements the watch sub-command: a live view of order
// updates and notifications.
package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/storefront/cmd/internal/cliutil"
	"github.com/tphakala/storefront/internal/app"
	"github.com/tphakala/storefront/internal/conf"
	"github.com/tphakala/storefront/internal/notification"
	"github.com/tphakala/storefront/internal/realtime"
)

// Command returns the watch command.
func Command(settings *conf.Settings) *cobra.Command {
	var noInput bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to realtime updates and print notifications as they arrive",
		Long: `Connect the realtime bridge and print every new notification. The list is
not refreshed automatically after a reconnect; type "r" and Enter to fetch
it again. Metrics are served when telemetry is enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := cliutil.SignalContext(cmd)
			defer stop()

			a, err := cliutil.OpenApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			var input io.Reader
			if !noInput {
				input = cmd.InOrStdin()
			}
			return run(ctx, a, cmd.OutOrStdout(), input)
		},
	}

	cmd.Flags().BoolVar(&noInput, "no-input", false, "Do not read refresh requests from stdin")
	return cmd
}

// run drives the watch loop until ctx is done.
func run(ctx context.Context, a *app.App, out io.Writer, input io.Reader) error {
	if err := cliutil.RequireLogin(a); err != nil {
		return err
	}
	if a.Bridge == nil {
		return app.ErrRealtimeDisabled
	}

	states := make(chan realtime.State, 8)
	unsubscribe := a.Bridge.OnStateChange(func(s realtime.State) {
		select {
		case states <- s:
		default:
		}
	})
	defer unsubscribe()

	ch, subCtx := a.Notifications.Subscribe()
	defer a.Notifications.Unsubscribe(ch)

	refreshList(ctx, a, out)

	if err := a.StartRealtime(ctx); err != nil {
		if !a.Settings.Realtime.AutoConnect {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		fmt.Fprintf(out, "realtime connect failed, retrying: %v\n", err)
	}

	refresh := make(chan struct{}, 1)
	if input != nil {
		go readCommands(input, refresh)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case <-subCtx.Done():
			return nil
		case err := <-runErr:
			return err
		case s := <-states:
			fmt.Fprintf(out, "[realtime] %s\n", s)
		case n := <-ch:
			printToast(out, n)
		case <-refresh:
			refreshList(ctx, a, out)
		}
	}
}

// readCommands signals refresh for every "r" line.
func readCommands(in io.Reader, refresh chan<- struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if strings.EqualFold(strings.TrimSpace(scanner.Text()), "r") {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}
}

func refreshList(ctx context.Context, a *app.App, out io.Writer) {
	if err := a.Notifications.Refresh(ctx); err != nil {
		fmt.Fprintf(out, "refresh failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%d notifications, %d unread\n",
		len(a.Notifications.Notifications()), a.Notifications.UnreadCount())
}

func printToast(out io.Writer, n *notification.Notification) {
	fmt.Fprintf(out, "[%s] %s: %s\n", strings.ToUpper(string(n.Type)), n.Title, n.Message)
}
