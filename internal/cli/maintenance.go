package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tippic/tippic_server/internal/server"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one push-auth de-authentication sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withServices(cmd.Context(), func(svc *server.Services) error {
				n, err := svc.PushAuth.Sweep(cmd.Context(), time.Now().UTC())
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(),
					map[string]int{"deauthenticated": n},
					fmt.Sprintf("deauthenticated %d user(s)", n))
			})
		},
	}
}

// NewDeauthCommand creates the deauth command.
func NewDeauthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deauth <user-id>...",
		Short: "Force users to re-authenticate through push",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withServices(cmd.Context(), func(svc *server.Services) error {
				n, err := svc.PushAuth.Deauthenticate(cmd.Context(), args)
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(),
					map[string]int64{"deauthenticated": n},
					fmt.Sprintf("deauthenticated %d user(s)", n))
			})
		},
	}
}

// NewUnauthedCommand creates the unauthed command.
func NewUnauthedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "unauthed",
		Short: "List users that have not acknowledged their push token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withServices(cmd.Context(), func(svc *server.Services) error {
				ids, err := svc.PushAuth.Unauthenticated(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ids == nil {
					ids = []string{}
				}
				return rootOpts.emit(cmd.OutOrStdout(),
					map[string][]string{"user_ids": ids},
					strings.Join(ids, "\n"))
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of ids to list")
	return cmd
}

// NewTotalsCommand creates the totals command.
func NewTotalsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Print aggregate value paid out and received",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withServices(cmd.Context(), func(svc *server.Services) error {
				t, err := svc.Payments.Totals(cmd.Context())
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(),
					map[string]int64{"to_public": t.ToPublic, "from_public": t.FromPublic},
					fmt.Sprintf("to_public=%d from_public=%d", t.ToPublic, t.FromPublic))
			})
		},
	}
}
