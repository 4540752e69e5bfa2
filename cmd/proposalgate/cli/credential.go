package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/proposalgate/proposalgate/internal/codec"
	"github.com/proposalgate/proposalgate/internal/model"
	"github.com/proposalgate/proposalgate/internal/service"
	"github.com/proposalgate/proposalgate/internal/store"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credential",
		Aliases: []string{"cred"},
		Short:   "Manage temporary access credentials",
		Long:    "Issue, list, revoke and inspect the credentials behind proposal access links.",
	}

	cmd.AddCommand(newCredentialIssueCmd())
	cmd.AddCommand(newCredentialListCmd())
	cmd.AddCommand(newCredentialRevokeCmd())
	cmd.AddCommand(newCredentialInspectCmd())

	return cmd
}

// ---------- credential issue ----------

func newCredentialIssueCmd() *cobra.Command {
	var (
		resource   string
		recipient  string
		duration   time.Duration
		scope      string
		noNotify   bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a credential and print its access link",
		Long: `Issue a temporary access credential for a proposal. The access link is
printed once and cannot be retrieved again; the recipient is also emailed
unless --no-notify is given.`,
		Example: `  proposalgate credential issue --resource J-2041 --recipient client@example.com
  proposalgate credential issue --resource J-2041 --recipient client@example.com --duration 2h --scope view,comment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := model.ParseScope(scope)
			if err != nil {
				return err
			}
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.issuer.Issue(cmd.Context(), service.IssueRequest{
				ResourceID:       resource,
				Recipient:        recipient,
				DurationSeconds:  int(duration / time.Second),
				Scope:            parsed,
				IssuedBy:         issuedBy(),
				SkipNotification: noNotify,
			})
			if err != nil {
				return fmt.Errorf("issue credential: %w", err)
			}

			out := cmd.OutOrStdout()
			if wantJSON(jsonOutput) {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, "Credential issued:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Link:      %s\n", res.URL)
			fmt.Fprintf(out, "  Resource:  %s\n", res.Resource.Label())
			fmt.Fprintf(out, "  Recipient: %s\n", res.Recipient.Email)
			fmt.Fprintf(out, "  Scope:     %s\n", res.Scope)
			fmt.Fprintf(out, "  Policy:    %s\n", res.Policy)
			fmt.Fprintf(out, "  Expires:   %s\n", res.ExpiresAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "  Email:     %s\n", res.Notification)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this link now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&resource, "resource", "", "Proposal id or job number (required)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient email address (required)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Validity window (default from issuance.default_duration)")
	cmd.Flags().StringVar(&scope, "scope", "", "Comma-separated actions, e.g. view,comment")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Do not email the recipient")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("resource")
	cmd.MarkFlagRequired("recipient")

	return cmd
}

// issuedBy names the operator for the audit fields.
func issuedBy() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

// ---------- credential list ----------

func newCredentialListCmd() *cobra.Command {
	var (
		filter     store.CredentialFilter
		state      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List credentials without their references",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter.State = model.CredentialState(state)
			creds, err := a.store.ListCredentials(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}
			for i := range creds {
				creds[i] = creds[i].Redacted()
			}

			out := cmd.OutOrStdout()
			if wantJSON(jsonOutput) {
				return printJSON(out, creds)
			}
			if len(creds) == 0 {
				fmt.Fprintln(out, "No credentials found. Use 'proposalgate credential issue' to create one.")
				return nil
			}

			now := time.Now()
			fmt.Fprintf(out, "%-14s %-14s %-30s %-9s %-12s %-5s\n", "ID", "RESOURCE", "RECIPIENT", "STATE", "REMAINING", "USES")
			fmt.Fprintf(out, "%-14s %-14s %-30s %-9s %-12s %-5s\n", "--", "--------", "---------", "-----", "---------", "----")
			for _, c := range creds {
				left := "-"
				if c.State == model.CredentialActive {
					left = remaining(c.ExpiresAt, now)
				}
				fmt.Fprintf(out, "%-14s %-14s %-30s %-9s %-12s %-5d\n",
					truncate(c.ID, 14), truncate(c.ResourceID, 14), truncate(c.Recipient.Email, 30),
					c.State, left, c.UseCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.ResourceID, "resource", "", "Only credentials for this proposal id")
	cmd.Flags().StringVar(&filter.Recipient, "recipient", "", "Only credentials for this recipient")
	cmd.Flags().StringVar(&state, "state", "", "Only credentials in this state: active, consumed, expired or revoked")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "Maximum number of credentials")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- credential revoke ----------

func newCredentialRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke an active credential",
		Long:  "Revoke a credential so its link stops working. Sessions it already started are unaffected unless sessions.bind_to_credential is set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.issuer.Revoke(cmd.Context(), args[0], issuedBy()); err != nil {
				return fmt.Errorf("revoke credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked credential %s\n", args[0])
			return nil
		},
	}
}

// ---------- credential inspect ----------

func newCredentialInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <reference-or-token>",
		Short: "Show what validating a reference would decide, without using it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.validator.Inspect(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("inspect %s: %w", codec.Redact(args[0]), err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
