package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"

	"github.com/mennotech/win-auto-shutdown/pkg/config"
	"github.com/mennotech/win-auto-shutdown/pkg/events"
	"github.com/mennotech/win-auto-shutdown/pkg/logfile"
	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
	"github.com/mennotech/win-auto-shutdown/pkg/shutdown"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

// Options are the command line settings of the daemon.
type Options struct {
	ConfigPath string
	// LogDir overrides LogDirectory from the config file when set.
	LogDir string
	// DryRun logs power-off requests instead of sending them.
	DryRun bool
	// StatusSocket is the unix socket of the status server. Empty disables it.
	StatusSocket string
}

// Run loads the config and runs the monitor until it triggers the shutdown
// sequence or the process is interrupted. Config and log directory errors
// are returned before the loop starts.
func Run(ctx context.Context, opts Options) error {
	conf, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogDir != "" {
		conf.LogDirectory = opts.LogDir
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	logger := logfile.New(conf.LogDirectory, conf.IndependentThrottleWindows)
	if err := logger.Init(); err != nil {
		return err
	}

	var powerOff shutdown.PowerOff = shutdown.NewPlatform(shutdown.SSHOptions{
		User:           conf.RemoteUser,
		IdentityFile:   conf.SSHIdentityFile,
		KnownHostsFile: conf.SSHKnownHostsFile,
		Port:           conf.SSHPort,
		OS:             conf.RemoteOS,
	})
	switch {
	case opts.DryRun:
		logrus.Warn("dry run enabled, no host will be powered off")
		powerOff = shutdown.DryRun{}
	case conf.TargetsLocalMachine():
		logrus.Info("no ComputerNames configured, this machine will be powered off")
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	board := NewStatusBoard(runID, startedAt)
	hub := events.NewEventHub()

	if opts.StatusSocket != "" {
		stop, err := serveStatus(opts.StatusSocket, board, hub, conf)
		if err != nil {
			// The status server is optional; monitoring goes on without it.
			logrus.Errorf("failed to start status server: %v", err)
		} else {
			defer stop()
		}
	}

	// Handle common process-killing signals, so the exit entry is always written.
	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	m := NewMonitor(
		conf,
		powerinfo.NewSystemSource(),
		logger,
		shutdown.NewTrigger(powerOff, conf.ShutdownTimeout()),
		WithStatusBoard(board),
		WithEvents(hub),
		WithBanner(banner(ctx, runID, conf)...),
	)

	logrus.WithField("runId", runID).Debug("monitor loop starts")
	reason, err := m.Run(ctx)
	logrus.WithFields(logrus.Fields{
		"runId":  runID,
		"reason": reason.String(),
	}).Info("monitor loop stopped")

	return err
}

func banner(ctx context.Context, runID string, conf config.Config) []string {
	lines := []string{
		fmt.Sprintf("Monitor started (version %s, commit %s, run %s)", version.Version, version.GitCommit, runID),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		lines = append(lines, fmt.Sprintf("Host: %s (%s %s %s), up %s",
			info.Hostname, info.OS, info.Platform, info.PlatformVersion,
			(time.Duration(info.Uptime) * time.Second).String()))
	} else {
		logrus.Debugf("failed to get host info: %v", err)
	}

	lines = append(lines, fmt.Sprintf(
		"Shutdown below %d minutes of runtime; targets: %s. Log every %d minutes on power, every %d seconds on battery; poll every %d seconds",
		conf.ShutDownRunTimeMinutes, shutdown.DescribeTargets(conf.ComputerNames), conf.LogUpdateIntervalMinutes, conf.LogOnBatteryIntervalSeconds, conf.SleepIntervalSeconds))

	return lines
}

// serveStatus serves the status API on a unix socket until the returned
// function is called.
func serveStatus(socketPath string, board *StatusBoard, hub *events.EventHub, conf config.Config) (func(), error) {
	// A socket left behind by a killed daemon would make Listen fail.
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", socketPath, err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}

	srv := &http.Server{
		Handler:           setupRoutes(board, hub, conf),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("status server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("status server stopped: %v", err)
		}
	}()

	return func() {
		logrus.Info("shutting down status server")
		// Open event streams would hold Shutdown until its deadline.
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logrus.Errorf("failed to shutdown status server: %v", err)
		}
	}, nil
}
