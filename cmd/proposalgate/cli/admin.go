package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/proposalgate/proposalgate/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Staff access to the admin API",
	}

	cmd.AddCommand(newAdminTokenCmd())

	return cmd
}

func newAdminTokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a staff bearer token for the admin API",
		Long: `Mint a bearer token signed with auth.jwt_secret. Send it as
"Authorization: Bearer <token>" to /api/v1/admin endpoints.`,
		Example: `  proposalgate admin token --email ops@example.com
  proposalgate admin token --email ops@example.com --ttl 8h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.JWTExpiry
			}

			secret := cfg.Auth.JWTSecret
			if secret == "" {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("auth.jwt_secret is not configured")
				}
				fmt.Fprint(cmd.ErrOrStderr(), "JWT secret: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				if err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr())
				secret = string(b)
			}

			auth := service.NewAuthService(secret, cfg.Codec.Issuer)
			token, err := auth.IssueJWT(cmd.Context(), email, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Staff email address (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from auth.jwt_expiry)")
	cmd.MarkFlagRequired("email")

	return cmd
}
