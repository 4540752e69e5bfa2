package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/proposalgate/proposalgate/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and mcp
	appCommit  string

	// configErr holds a failure from initConfig; commands that need the
	// configuration report it from loadConfig.
	configErr error
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	appCommit = commit
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposalgate",
		Short: "Temporary access links for proposal review",
		Long: `proposalgate issues time-limited access credentials for event proposals,
validates them when a client opens the link, and turns a successful validation
into a short, renewable browsing session.

Staff issue and revoke credentials through the admin API, this CLI, or the
built-in MCP server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./proposalgate.yaml)")
	cmd.PersistentFlags().String("data-dir", "", "data directory for the SQLite store (default: ./data)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	viper.BindPFlag("store.data_dir", cmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newCredentialCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	v.SetEnvPrefix("PROPOSALGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return // config file is optional
	}
	if err := config.ReadFile(v, path); err != nil {
		configErr = err
		return
	}
	v.SetConfigFile(path)
}

// findConfigFile looks for proposalgate.yaml in the working directory, then
// in ~/.proposalgate.
func findConfigFile() string {
	candidates := []string{"proposalgate.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".proposalgate", "proposalgate.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
