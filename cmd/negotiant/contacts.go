package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/quailyquaily/negotiant/internal/statepaths"
	"github.com/quailyquaily/negotiant/negotiation"
	"github.com/spf13/cobra"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect and manage counterparty contacts",
	}
	cmd.PersistentFlags().String("dir", "", "Engine state directory (defaults to file_state_dir/engine)")

	cmd.AddCommand(newContactsListCmd())
	cmd.AddCommand(newContactsShowCmd())
	cmd.AddCommand(newContactsSetStatusCmd())
	return cmd
}

func newContactsListCmd() *cobra.Command {
	var status string
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := serviceFromCmd(cmd)
			if err != nil {
				return err
			}
			records, err := svc.ListContacts(cmd.Context())
			if err != nil {
				return err
			}
			filter := negotiation.ContactStatus(strings.TrimSpace(strings.ToLower(status)))
			if filter != "" && filter != "all" {
				kept := records[:0]
				for _, item := range records {
					if item.Status == filter {
						kept = append(kept, item)
					}
				}
				records = kept
			}
			sort.Slice(records, func(i, j int) bool {
				if records[i].Status != records[j].Status {
					return records[i].Status < records[j].Status
				}
				return records[i].ContactID < records[j].ContactID
			})
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no contacts")
				return nil
			}
			for _, item := range records {
				_, _ = fmt.Fprintf(
					cmd.OutOrStdout(),
					"%s\t%s\t%.2f\t%d/%d\t%s\n",
					item.ContactID,
					item.Status,
					item.ReliabilityScore,
					item.SuccessfulExchanges,
					item.TotalExchanges,
					item.DisplayName,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "Filter by status: all|new|contacted|negotiating|active_saved|blocked")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newContactsShowCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "show <contact_id>",
		Short: "Show one contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contactID := strings.TrimSpace(args[0])
			if contactID == "" {
				return fmt.Errorf("contact_id is required")
			}
			svc, err := serviceFromCmd(cmd)
			if err != nil {
				return err
			}
			contact, ok, err := svc.GetContact(cmd.Context(), contactID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("contact %q not found", contactID)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), contact)
			}
			last := "-"
			if contact.LastExchangeAt != nil {
				last = contact.LastExchangeAt.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"contact_id: %s\ndisplay_name: %s\nstatus: %s\nreliability_score: %.2f\nexchanges: %d total, %d successful, %d failed\nlast_exchange_at: %s\n",
				contact.ContactID,
				contact.DisplayName,
				contact.Status,
				contact.ReliabilityScore,
				contact.TotalExchanges,
				contact.SuccessfulExchanges,
				contact.FailedExchanges,
				last,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func newContactsSetStatusCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "set-status <contact_id> <status>",
		Short: "Move a contact between statuses (for example to block one)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			contactID := strings.TrimSpace(args[0])
			if contactID == "" {
				return fmt.Errorf("contact_id is required")
			}
			status, err := parseContactStatus(args[1])
			if err != nil {
				return err
			}
			svc, err := serviceFromCmd(cmd)
			if err != nil {
				return err
			}
			updated, err := svc.SetContactStatus(cmd.Context(), contactID, status, time.Now().UTC())
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), updated)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "contact_id: %s\nstatus: %s\n", updated.ContactID, updated.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}

func parseContactStatus(raw string) (negotiation.ContactStatus, error) {
	status := negotiation.ContactStatus(strings.TrimSpace(strings.ToLower(raw)))
	switch status {
	case negotiation.ContactStatusNew,
		negotiation.ContactStatusContacted,
		negotiation.ContactStatusNegotiating,
		negotiation.ContactStatusActiveSaved,
		negotiation.ContactStatusBlocked:
		return status, nil
	}
	return "", fmt.Errorf("invalid status %q (want new|contacted|negotiating|active_saved|blocked)", raw)
}

func serviceFromCmd(cmd *cobra.Command) (*negotiation.Service, error) {
	dir, _ := cmd.Flags().GetString("dir")
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = statepaths.EngineDir()
	} else {
		dir = statepaths.ExpandHomePath(dir)
	}
	store := negotiation.NewFileStore(dir)
	if err := store.Ensure(cmd.Context()); err != nil {
		return nil, err
	}
	return negotiation.NewService(store), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
