package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired credentials and sessions past retention",
		Long: `Run one sweep: delete credentials and sessions whose expiry lies further in
the past than sweep.retention. 'proposalgate serve' runs this on
sweep.interval; use this command for one-off cleanup or from cron.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCommandApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.sweeper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d credentials and %d sessions\n", res.Credentials, res.Sessions)
			return nil
		},
	}
}
