package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/proposalgate/proposalgate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage proposalgate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default proposalgate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefaultConfig(path, force); err != nil {
				if !force {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Set auth.jwt_secret (or PROPOSALGATE_AUTH_JWT_SECRET), then run 'proposalgate serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVar(&path, "path", "proposalgate.yaml", "Where to write the file")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configErr != nil {
				return configErr
			}
			out := cmd.OutOrStdout()
			if f := viper.ConfigFileUsed(); f != "" {
				fmt.Fprintf(out, "# Config file: %s\n", f)
			} else {
				fmt.Fprintln(out, "# Config file: (none found, using defaults)")
			}

			data, err := config.EffectiveYAML(viper.GetViper())
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}
