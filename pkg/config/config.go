package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultShutdownTimeoutSeconds bounds a single power-off request when
	// ShutdownTimeoutSeconds is not configured.
	DefaultShutdownTimeoutSeconds = 30
	// DefaultLogDirName is the log directory created next to the config file
	// when LogDirectory is not configured.
	DefaultLogDirName = "logs"
	// DefaultSSHPort is used for remote hosts given without a port.
	DefaultSSHPort = 22

	// RemoteOSLinux and RemoteOSWindows select the command run on remote
	// hosts reached over SSH.
	RemoteOSLinux   = "linux"
	RemoteOSWindows = "windows"
)

// Config is the validated, immutable configuration of the monitor.
// It is created once by Load and passed around by value.
type Config struct {
	ShutDownRunTimeMinutes      int      `json:"ShutDownRunTimeMinutes"`
	LogUpdateIntervalMinutes    int      `json:"LogUpdateIntervalMinutes"`
	LogOnBatteryIntervalSeconds int      `json:"LogOnBatteryIntervalSeconds"`
	SleepIntervalSeconds        int      `json:"SleepIntervalSeconds"`
	ComputerNames               []string `json:"ComputerNames"`

	LogDirectory               string `json:"LogDirectory"`
	ShutdownTimeoutSeconds     int    `json:"ShutdownTimeoutSeconds"`
	IndependentThrottleWindows bool   `json:"IndependentThrottleWindows"`
	RemoteUser                 string `json:"RemoteUser,omitempty"`
	SSHIdentityFile            string `json:"SSHIdentityFile,omitempty"`
	SSHKnownHostsFile          string `json:"SSHKnownHostsFile,omitempty"`
	SSHPort                    int    `json:"SSHPort,omitempty"`
	RemoteOS                   string `json:"RemoteOS,omitempty"`
}

// ShutdownRunTime is the runtime below which the shutdown sequence starts.
func (c Config) ShutdownRunTime() time.Duration {
	return time.Duration(c.ShutDownRunTimeMinutes) * time.Minute
}

// LogUpdateInterval is the throttle window used while on external power.
func (c Config) LogUpdateInterval() time.Duration {
	return time.Duration(c.LogUpdateIntervalMinutes) * time.Minute
}

// LogOnBatteryInterval is the throttle window used while not on external power.
func (c Config) LogOnBatteryInterval() time.Duration {
	return time.Duration(c.LogOnBatteryIntervalSeconds) * time.Second
}

// SleepInterval is the pause between two poll cycles.
func (c Config) SleepInterval() time.Duration {
	return time.Duration(c.SleepIntervalSeconds) * time.Second
}

// ShutdownTimeout bounds each per-host power-off request.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// TargetsLocalMachine reports whether the shutdown sequence powers off this
// machine rather than a list of remote hosts.
func (c Config) TargetsLocalMachine() bool {
	return len(c.ComputerNames) == 0
}

func (c Config) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"shutDownRunTimeMinutes":      c.ShutDownRunTimeMinutes,
		"logUpdateIntervalMinutes":    c.LogUpdateIntervalMinutes,
		"logOnBatteryIntervalSeconds": c.LogOnBatteryIntervalSeconds,
		"sleepIntervalSeconds":        c.SleepIntervalSeconds,
		"computerNames":               c.ComputerNames,
		"logDirectory":                c.LogDirectory,
		"shutdownTimeoutSeconds":      c.ShutdownTimeoutSeconds,
		"independentThrottleWindows":  c.IndependentThrottleWindows,
		"remoteOS":                    c.RemoteOS,
		"sshPort":                     c.SSHPort,
	}
}
