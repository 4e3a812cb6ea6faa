package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tether/internal/domain"
	"tether/internal/richtext"
)

// history [target]: list conversations, or the latest messages of one.
func historyCmd() *cobra.Command {
	var (
		limit int
		chat  bool
	)
	cmd := &cobra.Command{
		Use:   "history [target]",
		Short: "List conversations or the messages of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				targets, err := appCtx.History.Conversations(ctx)
				if err != nil {
					return err
				}
				for _, t := range targets {
					fmt.Println(t)
				}
				return nil
			}
			target, err := domain.ParseTarget(args[0])
			if err != nil {
				return err
			}
			recs, err := appCtx.History.List(ctx, target, limit)
			if err != nil {
				return err
			}
			render := richtext.Markdown
			if chat {
				render = richtext.Chat
			}
			for _, r := range recs {
				env := r.Envelope
				text := render(env.Spans)
				if env.Deleted {
					text = "(deleted)"
				}
				flag := ""
				if r.Flagged {
					flag = " [unknown]"
				}
				fmt.Printf("[%s] %s%s: %s (%s, %s, rev %d) %s\n",
					env.Time().Format(time.DateTime), env.Sender, flag, text,
					r.Direction, r.Status, env.Revision, env.MessageID)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages (0 for all)")
	cmd.Flags().BoolVar(&chat, "chat", false, "render formatting with chat markers instead of markdown")
	return cmd
}
