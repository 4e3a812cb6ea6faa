package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func reregisterCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reregister",
		Short: "Replace the device identity; the device must be linked again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("this discards the identity and any link; pass --yes to confirm")
			}
			id, fp, err := appCtx.Identity.Reregister()
			if err != nil {
				return err
			}
			fmt.Printf("New identity.\nDevice: %s\nFingerprint: %s\n", id.DeviceID, fp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
