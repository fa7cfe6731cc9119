package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mennotech/win-auto-shutdown/pkg/client"
	"github.com/mennotech/win-auto-shutdown/pkg/events"
)

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the poll results of the running daemon",
		Long: `Print every poll result of the running daemon as it happens.

The command returns when the daemon exits or on Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ch, err := client.NewClient(statusSocketPath).SubscribeEvents(cmd.Context())
			if err != nil {
				return err
			}
			for ev := range ch {
				printEvent(cmd.OutOrStdout(), ev)
			}
			return nil
		},
	}
}

func printEvent(w io.Writer, ev events.Event) {
	switch ev.Name {
	case events.Poll:
		p, err := events.DecodeAs[events.PollEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("failed to decode poll event")
			return
		}
		ts := time.Unix(p.Ts, 0).Format(time.DateTime)
		if p.Error != "" {
			fmt.Fprintf(w, "[%s] %s\n", ts, color.RedString("query failed: %s", p.Error))
			return
		}
		runtime := "unknown"
		if p.EstimatedRuntimeMinutes != nil {
			runtime = fmt.Sprintf("%d minutes", *p.EstimatedRuntimeMinutes)
		}
		fmt.Fprintf(w, "[%s] %s, runtime %s\n", ts, bold("%s", p.Status), runtime)
	case events.Shutdown:
		s, err := events.DecodeAs[events.ShutdownEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("failed to decode shutdown event")
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", time.Unix(s.Ts, 0).Format(time.DateTime), color.New(color.Bold, color.FgRed).Sprintf(
			"runtime %d < %d minutes, shutting down: %s", s.EstimatedRuntimeMinutes, s.ThresholdMinutes, s.Targets))
	case events.Exit:
		e, err := events.DecodeAs[events.ExitEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("failed to decode exit event")
			return
		}
		fmt.Fprintf(w, "[%s] daemon exiting: %s\n", time.Unix(e.Ts, 0).Format(time.DateTime), e.Reason)
	default:
		logrus.WithField("event", ev.Name).Debug("ignoring unknown event")
	}
}
