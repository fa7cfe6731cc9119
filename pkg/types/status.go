package types

import (
	"time"

	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
)

// MonitorState is the logical state of the monitor loop.
type MonitorState string

const (
	StateStarting    MonitorState = "Starting"
	StateRunning     MonitorState = "Running"
	StateTerminating MonitorState = "Terminating"
)

// Status is published by the daemon after every poll cycle.
// This struct is shared between the daemon and client packages.
type Status struct {
	RunID     string       `json:"runId"`
	Version   string       `json:"version"`
	State     MonitorState `json:"state"`
	StartedAt time.Time    `json:"startedAt"`

	LastPollAt     time.Time           `json:"lastPollAt,omitempty"`
	Snapshot       *powerinfo.Snapshot `json:"snapshot,omitempty"`
	LastQueryError string              `json:"lastQueryError,omitempty"`

	LastLogTimestamp   *time.Time `json:"lastLogTimestamp,omitempty"`
	CurrentLogFilePath string     `json:"currentLogFilePath"`

	ShutdownTriggered bool `json:"shutdownTriggered"`
}
