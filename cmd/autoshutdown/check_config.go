package main

import (
	"github.com/spf13/cobra"

	"github.com/mennotech/win-auto-shutdown/pkg/config"
)

func NewCheckConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cmd.Printf("%s is valid\n\n", configPath)
			printConfig(cmd.OutOrStdout(), &conf)
			return nil
		},
	}
}
