package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"segensemble/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage run configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(flags.ConfigPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", flags.ConfigPath)
			}
			if err := config.CreateDefaultConfigFile(flags.ConfigPath); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", flags.ConfigPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
