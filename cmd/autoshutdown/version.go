package main

import (
	"github.com/spf13/cobra"

	"github.com/mennotech/win-auto-shutdown/pkg/client"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("client version: %s (%s)\n", version.Version, version.GitCommit)

			if statusSocketPath == "" {
				return
			}
			daemonVersion, err := client.NewClient(statusSocketPath).GetVersion()
			if err != nil {
				cmd.Println("daemon version: not running")
				return
			}
			cmd.Printf("daemon version: %s\n", daemonVersion)
		},
	}
}
