package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the key store and the device identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, fp, err := appCtx.Identity.Identity()
			if err != nil {
				return err
			}
			fmt.Printf("Identity ready.\nDevice: %s\nFingerprint: %s\n", id.DeviceID, fp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noPassphrase, "no-passphrase", false, "store keys without a passphrase")
	return cmd
}
