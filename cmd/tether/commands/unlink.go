package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Forget the linked session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Channel.Unlink(); err != nil {
				return err
			}
			fmt.Println("Unlinked.")
			return nil
		},
	}
}
