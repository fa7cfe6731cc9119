package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mennotech/win-auto-shutdown/pkg/client"
	"github.com/mennotech/win-auto-shutdown/pkg/config"
)

var (
	logLevel         = "info"
	configPath       = "autoshutdown.json"
	statusSocketPath = filepath.Join(os.TempDir(), "autoshutdown.sock")
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.DateTime,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, config.ErrMissingFile), errors.Is(err, config.ErrParseFailure), errors.Is(err, config.ErrInvalidField):
		fmt.Fprintln(os.Stderr, "\nError: the configuration could not be loaded")
		fmt.Fprintf(os.Stderr, "  - Check %s, or pass another file with '--config'\n", configPath)
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: autoshutdown daemon is not running")
		fmt.Fprintln(os.Stderr, "  - Start it with 'autoshutdown daemon', or use 'autoshutdown status --local'")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again as the user running the daemon")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoshutdown",
		Short: "autoshutdown powers machines off before the UPS battery runs out",
		Long: `autoshutdown watches the battery or UPS reported by the operating system,
keeps a daily status log, and powers off this machine or a list of remote
hosts once the estimated runtime drops below a threshold.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVarP(&configPath, "config", "c", configPath, "config file path (.json, .yaml or .toml)")
	globalFlags.StringVar(&statusSocketPath, "status-socket", statusSocketPath, "status server unix socket path, empty to disable")

	cmd.AddCommand(
		NewDaemonCommand(),
		NewStatusCommand(),
		NewWatchCommand(),
		NewCheckConfigCommand(),
		NewVersionCommand(),
	)

	return cmd
}
