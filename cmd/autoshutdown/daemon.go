package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mennotech/win-auto-shutdown/pkg/daemon"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

var (
	logDir string
	dryRun bool
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the power-failure monitor in the foreground",
		Long: `Run the power-failure monitor in the foreground.

The monitor polls the battery every SleepIntervalSeconds. Once the estimated
runtime drops below ShutDownRunTimeMinutes it powers off every host in
ComputerNames, or this machine when the list is empty, and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("autoshutdown daemon starting")
			return daemon.Run(cmd.Context(), daemon.Options{
				ConfigPath:   configPath,
				LogDir:       logDir,
				DryRun:       dryRun,
				StatusSocket: statusSocketPath,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&logDir, "log-dir", "", "directory for the daily status logs (overrides LogDirectory)")
	f.BoolVar(&dryRun, "dry-run", false, "log power-off requests instead of sending them")

	return cmd
}
