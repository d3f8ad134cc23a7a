package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tippic/tippic_server/internal/server"
	"github.com/tippic/tippic_server/internal/settlement"
)

// NewPayoutCommand creates the payout command.
func NewPayoutCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		itemID string
		amount uint64
		notify bool
	)

	cmd := &cobra.Command{
		Use:   "payout <user-id>",
		Short: "Submit a manual payment to a user's wallet",
		Long: `Submits a manual payment. The ledger entry is written when the
settlement callback or the watcher observes the transfer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withServices(cmd.Context(), func(svc *server.Services) error {
				res, err := svc.Payouts.Submit(cmd.Context(), settlement.PayoutRequest{
					IdentityID: args[0],
					ItemID:     itemID,
					Amount:     amount,
					Notify:     notify,
					Manual:     true,
				})
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(),
					map[string]string{"memo": res.Memo, "tx_hash": res.TxHash},
					fmt.Sprintf("submitted memo=%s tx_hash=%s", res.Memo, res.TxHash))
			})
		},
	}

	cmd.Flags().StringVar(&itemID, "item", "", "item id the payment is for (required)")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount in nanotons (required)")
	cmd.Flags().BoolVar(&notify, "notify", false, "send a push notification to the user")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
