package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ConfigCmd prints the effective configuration.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
SLURMJOBS_* environment variables, in config file format.

Examples:
  slurmjobs config
  slurmjobs config --config cluster.toml > slurmjobs.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.TOML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}
