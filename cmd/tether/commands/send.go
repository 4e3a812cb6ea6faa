package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tether/internal/domain"
	"tether/internal/report"
	"tether/internal/richtext"
)

// send <target> <message>: send a message, or fan one out to a category.
func sendCmd() *cobra.Command {
	var (
		category string
		reportF  string
		plain    bool
	)
	cmd := &cobra.Command{
		Use:   "send [target] [message...]",
		Short: "Send a message to a conversation or a send category",
		Long: "Send a message. The message is markdown unless --plain is given.\n" +
			"With --category the message goes to every active target of the category;\n" +
			"with --report the message body comes from an operator report file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var target domain.Target
			if category == "" {
				if len(args) == 0 {
					return errors.New("target required unless --category is given")
				}
				t, err := domain.ParseTarget(args[0])
				if err != nil {
					return err
				}
				target, args = t, args[1:]
			}

			type body struct {
				spans []domain.Span
				freq  string
			}
			var bodies []body
			switch {
			case reportF != "":
				reports, err := report.Load(reportF)
				if err != nil {
					return err
				}
				for _, r := range reports {
					bodies = append(bodies, body{spans: r.Spans(), freq: r.Frequency})
				}
			case len(args) > 0:
				text := strings.Join(args, " ")
				spans := []domain.Span{{Text: text}}
				if !plain {
					spans = richtext.Parse(text)
				}
				bodies = append(bodies, body{spans: spans})
			default:
				return errors.New("nothing to send")
			}

			return withChannel(cmd.Context(), func(ctx context.Context) error {
				for _, b := range bodies {
					if category != "" {
						if err := sendCategory(ctx, category, b.spans, b.freq); err != nil {
							return err
						}
						continue
					}
					rec, err := appCtx.Outgoing.Send(ctx, domain.Envelope{Target: target, Spans: b.spans})
					if err != nil {
						return err
					}
					fmt.Printf("%s %s\n", rec.Envelope.MessageID, rec.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "send to every active target of this category")
	cmd.Flags().StringVar(&reportF, "report", "", "read the message from an operator report file (JSON with comments)")
	cmd.Flags().BoolVar(&plain, "plain", false, "send the text as is, without markdown")
	return cmd
}

func sendCategory(ctx context.Context, name string, spans []domain.Span, freq string) error {
	cat, ok := appCtx.Config.Category(name)
	if !ok {
		return fmt.Errorf("unknown category %q", name)
	}
	results, err := appCtx.Outgoing.SubmitCategory(ctx, cat, spans, freq)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%s failed: %v\n", r.Target, r.Err)
			errs = append(errs, r.Err)
			continue
		}
		fmt.Printf("%s %s %s\n", r.Target, r.Record.Envelope.MessageID, r.Record.Status)
	}
	return errors.Join(errs...)
}

func editCmd() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "edit <target> <message-id> <message...>",
		Short: "Replace the text of a message this device sent",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParseTarget(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[2:], " ")
			spans := []domain.Span{{Text: text}}
			if !plain {
				spans = richtext.Parse(text)
			}
			return withChannel(cmd.Context(), func(ctx context.Context) error {
				rec, err := appCtx.Outgoing.Edit(ctx, target, domain.MessageID(args[1]), spans)
				if err != nil {
					return err
				}
				fmt.Printf("%s revision %d %s\n", rec.Envelope.MessageID, rec.Envelope.Revision, rec.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "send the text as is, without markdown")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target> <message-id>",
		Short: "Delete a message this device sent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParseTarget(args[0])
			if err != nil {
				return err
			}
			return withChannel(cmd.Context(), func(ctx context.Context) error {
				rec, err := appCtx.Outgoing.Delete(ctx, target, domain.MessageID(args[1]))
				if err != nil {
					return err
				}
				fmt.Printf("%s deleted (revision %d)\n", rec.Envelope.MessageID, rec.Envelope.Revision)
				return nil
			})
		},
	}
}
