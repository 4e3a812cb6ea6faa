package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identity and link state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := appCtx.Status()
			if err != nil {
				return err
			}
			if st.Identity.DeviceID == "" {
				fmt.Println("No identity. Run `tether init`.")
				return nil
			}
			fmt.Printf("Device:      %s\n", st.Identity.DeviceID)
			fmt.Printf("Fingerprint: %s\n", st.Fingerprint)
			if !st.Linked {
				fmt.Println("Linked:      no")
				if st.Discarded != nil {
					fmt.Printf("Note:        the previous session was unreadable and has been removed (%v).\n", st.Discarded)
					fmt.Println("             Run `tether link` to pair again.")
				}
				return nil
			}
			s := st.Session
			fmt.Printf("Linked:      account %s since %s\n", s.AccountID, s.LinkedAt.Format(time.RFC3339))
			fmt.Printf("Session:     %s\n", s.SessionID)
			fmt.Printf("Send chain:  counter %d epoch %d\n", s.Send.Counter, s.Send.Epoch)
			fmt.Printf("Recv chain:  counter %d epoch %d\n", s.Recv.Counter, s.Recv.Epoch)
			return nil
		},
	}
}
