package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/store"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage browsing sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionEndCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		filter     store.SessionFilter
		state      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter.State = model.SessionState(state)
			sessions, err := a.store.ListSessions(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if wantJSON(jsonOutput) {
				return printJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			now := time.Now()
			fmt.Fprintf(out, "%-14s %-14s %-30s %-7s %-12s %-4s\n", "ID", "RESOURCE", "RECIPIENT", "STATE", "REMAINING", "EXT")
			fmt.Fprintf(out, "%-14s %-14s %-30s %-7s %-12s %-4s\n", "--", "--------", "---------", "-----", "---------", "---")
			for _, s := range sessions {
				left := "-"
				if s.State == model.SessionActive {
					left = remaining(s.ExpiresAt, now)
				}
				fmt.Fprintf(out, "%-14s %-14s %-30s %-7s %-12s %-4d\n",
					truncate(s.ID, 14), truncate(s.ResourceID, 14), truncate(s.Recipient.Email, 30),
					s.State, left, s.ExtensionCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.ResourceID, "resource", "", "Only sessions for this proposal id")
	cmd.Flags().StringVar(&filter.Recipient, "recipient", "", "Only sessions for this recipient")
	cmd.Flags().StringVar(&state, "state", "", "Only sessions in this state: active or ended")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum number of sessions")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a session immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.promoter.EndByID(cmd.Context(), args[0], model.EndReasonAdmin); err != nil {
				return fmt.Errorf("end session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", args[0])
			return nil
		},
	}
}
