package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kiln/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the kiln config file",
	// Config commands must work even when the current file is invalid.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := localConfigPath
		if len(args) == 1 {
			dest = args[0]
		}
		if _, err := os.Stat(dest); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		}
		if err := config.WriteDefaultConfig(dest); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "wrote %s", dest)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value, e.g. github.owner",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := configPath()
		if err := config.SetValue(dest, args[0], args[1]); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "set %s in %s", args[0], dest)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
