package daemon

import (
	"sync"
	"time"

	"github.com/mennotech/win-auto-shutdown/pkg/logfile"
	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
	"github.com/mennotech/win-auto-shutdown/pkg/types"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

// StatusBoard holds a copy of the latest monitor status for the status
// server. The monitor loop is its only writer. A nil *StatusBoard is valid
// and ignores every update.
type StatusBoard struct {
	mu     sync.RWMutex
	status types.Status
}

// NewStatusBoard returns a board for the run identified by runID.
func NewStatusBoard(runID string, startedAt time.Time) *StatusBoard {
	return &StatusBoard{
		status: types.Status{
			RunID:     runID,
			Version:   version.Version,
			State:     types.StateStarting,
			StartedAt: startedAt,
		},
	}
}

// Get returns a copy of the current status.
func (b *StatusBoard) Get() types.Status {
	if b == nil {
		return types.Status{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.status
	if s.Snapshot != nil {
		snap := *s.Snapshot
		s.Snapshot = &snap
	}
	return s
}

func (b *StatusBoard) setState(state types.MonitorState) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.State = state
}

func (b *StatusBoard) markShutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.State = types.StateTerminating
	b.status.ShutdownTriggered = true
}

func (b *StatusBoard) publish(now time.Time, snap *powerinfo.Snapshot, queryErr error, st logfile.State) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.LastPollAt = now
	b.status.Snapshot = nil
	b.status.LastQueryError = ""
	if snap != nil {
		cp := *snap
		b.status.Snapshot = &cp
	}
	if queryErr != nil {
		b.status.LastQueryError = queryErr.Error()
	}

	b.status.CurrentLogFilePath = st.CurrentLogFilePath
	b.status.LastLogTimestamp = nil
	if !st.LastLogTimestamp.IsZero() {
		ts := st.LastLogTimestamp
		b.status.LastLogTimestamp = &ts
	}
}
