package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/domain"
)

// ingest [file]: apply one encoded envelope to history.
func ingestCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Apply an encoded envelope from a file or stdin to history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			raw, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			meta := domain.SourceMeta{Source: "cli", Sender: sender, ReceivedAt: time.Now()}
			outcome, err := appCtx.Inbound.Ingest(cmd.Context(), raw, meta)
			if err != nil {
				return err
			}
			fmt.Println(outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "sender to record when the envelope has none")
	return cmd
}
