package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/protocol/linking"
)

// linkCmd shows a pairing code and waits for the primary to confirm it.
func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Pair this device with a primary device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := appCtx.Pairing.Begin(ctx)
			if err != nil {
				return err
			}
			defer appCtx.Pairing.Cancel()

			fmt.Println("Scan this code on the primary device:")
			fmt.Println()
			fmt.Println(linking.EncodePayload(p))
			fmt.Println()
			fmt.Printf("Waiting until %s ...\n", p.ExpiresAt.Format(time.TimeOnly))

			info, err := appCtx.Pairing.Await(ctx)
			if err != nil {
				return fmt.Errorf("linking: %w", err)
			}
			fmt.Printf("Linked to account %s (session %s).\n", info.AccountID, info.SessionID)
			return nil
		},
	}
}
