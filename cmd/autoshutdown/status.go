package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mennotech/win-auto-shutdown/pkg/client"
	"github.com/mennotech/win-auto-shutdown/pkg/config"
	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
	"github.com/mennotech/win-auto-shutdown/pkg/shutdown"
	"github.com/mennotech/win-auto-shutdown/pkg/types"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

type statusData struct {
	status *types.Status
	config *config.Config
	local  bool
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	apiClient := client.NewClient(statusSocketPath)

	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return &statusData{status: st, config: conf}, nil
}

// queryLocalStatus reads the battery directly, without a running daemon.
func queryLocalStatus() (*statusData, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st := &types.Status{
		Version:   version.Version,
		StartedAt: time.Now(),
	}
	snap, err := powerinfo.NewSystemSource().Query()
	if err != nil {
		st.LastQueryError = err.Error()
	} else {
		st.Snapshot = &snap
	}
	st.LastPollAt = time.Now()

	return &statusData{status: st, config: &conf, local: true}, nil
}

func NewStatusCommand() *cobra.Command {
	local := false

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Get the current status of autoshutdown",
		Long: `Get the power status, the log state, and the configuration of the running daemon.

With --local the battery is queried directly and the config file is read from disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetch := fetchStatusData
			if local {
				fetch = queryLocalStatus
			}
			data, err := fetch()
			if err != nil {
				return err
			}
			logrus.WithField("local", data.local).Debug("status fetched")

			printStatus(cmd.OutOrStdout(), data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "query the battery directly instead of asking the daemon")

	return cmd
}

func printStatus(w io.Writer, data *statusData) {
	st := data.status
	conf := data.config

	if !data.local {
		fmt.Fprintln(w, bold("Daemon:"))
		fmt.Fprintf(w, "  Version: %s\n", bold("%s", st.Version))
		fmt.Fprintf(w, "  Run ID: %s\n", bold("%s", st.RunID))
		fmt.Fprintf(w, "  State: %s\n", bold("%s", st.State))
		fmt.Fprintf(w, "  Started: %s\n", bold("%s", st.StartedAt.Format(time.DateTime)))
		fmt.Fprintf(w, "  Shutdown triggered: %s\n", bool2Text(st.ShutdownTriggered))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, bold("Power status:"))
	if !st.LastPollAt.IsZero() {
		fmt.Fprintf(w, "  Last poll: %s\n", bold("%s", st.LastPollAt.Format(time.DateTime)))
	}
	switch {
	case st.LastQueryError != "":
		fmt.Fprintf(w, "  Query error: %s\n", color.RedString(st.LastQueryError))
	case st.Snapshot == nil:
		fmt.Fprintln(w, "  No poll has completed yet.")
	default:
		printSnapshot(w, *st.Snapshot, conf.ShutDownRunTimeMinutes)
	}
	fmt.Fprintln(w)

	if !data.local {
		fmt.Fprintln(w, bold("Status log:"))
		if st.CurrentLogFilePath != "" {
			fmt.Fprintf(w, "  Current file: %s\n", bold("%s", st.CurrentLogFilePath))
		}
		if st.LastLogTimestamp != nil {
			fmt.Fprintf(w, "  Last throttled entry: %s\n", bold("%s", st.LastLogTimestamp.Format(time.DateTime)))
		} else {
			fmt.Fprintln(w, "  Last throttled entry: never")
		}
		fmt.Fprintln(w)
	}

	printConfig(w, conf)
}

func printSnapshot(w io.Writer, snap powerinfo.Snapshot, thresholdMinutes int) {
	if !snap.BatteryPresent() {
		fmt.Fprintf(w, "  State: %s\n", color.YellowString("no battery detected"))
		return
	}

	state := snap.Status.String()
	switch snap.Status {
	case powerinfo.OnPower:
		state = color.GreenString(state)
	case powerinfo.Discharging:
		state = color.RedString(state)
	}
	fmt.Fprintf(w, "  State: %s\n", bold("%s", state))

	if snap.ChargePercent != nil {
		fmt.Fprintf(w, "  Current charge: %s\n", bold("%d%%", *snap.ChargePercent))
	}

	if snap.EstimatedRuntimeMinutes == nil {
		fmt.Fprintf(w, "  Estimated runtime: %s\n", bold("unknown"))
		return
	}
	runtime := *snap.EstimatedRuntimeMinutes
	fmt.Fprintf(w, "  Estimated runtime: %s\n", bold("%d minutes", runtime))
	fmt.Fprintf(w, "  Below shutdown threshold: %s\n", bool2Text(runtime < thresholdMinutes))
}

func printConfig(w io.Writer, conf *config.Config) {
	fmt.Fprintln(w, bold("Configuration:"))
	fmt.Fprintf(w, "  Shutdown below: %s\n", bold("%d minutes", conf.ShutDownRunTimeMinutes))
	fmt.Fprintf(w, "  Log on power every: %s\n", bold("%d minutes", conf.LogUpdateIntervalMinutes))
	fmt.Fprintf(w, "  Log on battery every: %s\n", bold("%d seconds", conf.LogOnBatteryIntervalSeconds))
	fmt.Fprintf(w, "  Poll every: %s\n", bold("%d seconds", conf.SleepIntervalSeconds))

	fmt.Fprintf(w, "  Shutdown targets: %s\n", bold("%s", shutdown.DescribeTargets(conf.ComputerNames)))
	fmt.Fprintf(w, "  Log directory: %s\n", bold("%s", conf.LogDirectory))
	fmt.Fprintf(w, "  Independent throttle windows: %s\n", bool2Text(conf.IndependentThrottleWindows))
}
