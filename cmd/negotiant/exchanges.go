package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/negotiant/negotiation"
	"github.com/spf13/cobra"
)

func newExchangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "Inspect exchange records",
	}
	cmd.PersistentFlags().String("dir", "", "Engine state directory (defaults to file_state_dir/engine)")

	cmd.AddCommand(newExchangesListCmd())
	cmd.AddCommand(newExchangesShowCmd())
	return cmd
}

func newExchangesListCmd() *cobra.Command {
	var contactID string
	var status string
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exchanges",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := serviceFromCmd(cmd)
			if err != nil {
				return err
			}
			records, err := svc.ListExchanges(cmd.Context())
			if err != nil {
				return err
			}
			contactFilter := strings.TrimSpace(contactID)
			statusFilter := negotiation.ExchangeStatus(strings.TrimSpace(strings.ToLower(status)))
			kept := records[:0]
			for _, item := range records {
				if contactFilter != "" && item.ContactID != contactFilter {
					continue
				}
				if statusFilter != "" && statusFilter != "all" && item.Status != statusFilter {
					continue
				}
				kept = append(kept, item)
			}
			records = kept
			sort.Slice(records, func(i, j int) bool {
				if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
					return records[i].CreatedAt.After(records[j].CreatedAt)
				}
				return records[i].ID < records[j].ID
			})
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no exchanges")
				return nil
			}
			for _, item := range records {
				_, _ = fmt.Fprintf(
					cmd.OutOrStdout(),
					"%s\t%s\t%s\t%s\t%s\n",
					item.ID,
					item.ContactID,
					item.Status,
					formatTermsBrief(item.Terms),
					item.CreatedAt.Format(time.RFC3339),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&contactID, "contact", "", "Filter by contact_id")
	cmd.Flags().StringVar(&status, "status", "all", "Filter by status: all|proposed|agreed|my_turn_done|completed|failed")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newExchangesShowCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "show <exchange_id>",
		Short: "Show one exchange with its message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exchangeID := strings.TrimSpace(args[0])
			if exchangeID == "" {
				return fmt.Errorf("exchange_id is required")
			}
			svc, err := serviceFromCmd(cmd)
			if err != nil {
				return err
			}
			exchange, ok, err := svc.GetExchange(cmd.Context(), exchangeID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("exchange %q not found", exchangeID)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), exchange)
			}
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"id: %s\ncontact_id: %s\nstatus: %s\nterms: %s\ncreated_at: %s\n",
				exchange.ID,
				exchange.ContactID,
				exchange.Status,
				formatTermsBrief(exchange.Terms),
				exchange.CreatedAt.Format(time.RFC3339),
			)
			if exchange.AgreedAt != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agreed_at: %s\n", exchange.AgreedAt.Format(time.RFC3339))
			}
			if exchange.CompletedAt != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "completed_at: %s\n", exchange.CompletedAt.Format(time.RFC3339))
			}
			if len(exchange.History) > 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "history:")
				for _, entry := range exchange.History {
					_, _ = fmt.Fprintf(
						cmd.OutOrStdout(),
						"  %s\t%s\t%s\n",
						entry.At.Format(time.RFC3339),
						entry.Sender,
						entry.Text,
					)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func formatTermsBrief(t negotiation.Terms) string {
	return fmt.Sprintf("likes=%d subs=%d comments=%d watch=%ds", t.Likes, t.Subs, t.Comments, t.WatchSeconds)
}
