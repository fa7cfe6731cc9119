package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mennotech/win-auto-shutdown/pkg/config"
	"github.com/mennotech/win-auto-shutdown/pkg/events"
	"github.com/mennotech/win-auto-shutdown/pkg/logfile"
	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
	"github.com/mennotech/win-auto-shutdown/pkg/shutdown"
	"github.com/mennotech/win-auto-shutdown/pkg/types"
)

// ExitReason tells why Monitor.Run returned.
type ExitReason int

const (
	// ExitInterrupted means the context was cancelled (operator interrupt).
	ExitInterrupted ExitReason = iota
	// ExitShutdownTriggered means the shutdown sequence was executed.
	ExitShutdownTriggered
	// ExitFault means an unhandled fault stopped the loop.
	ExitFault
)

func (r ExitReason) String() string {
	switch r {
	case ExitShutdownTriggered:
		return "shutdown triggered"
	case ExitFault:
		return "unhandled fault"
	default:
		return "interrupted"
	}
}

// ExitMessage is the final entry written on every exit path.
const ExitMessage = "Monitor exiting"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now strips the monotonic reading so elapsed time survives system sleep.
func (systemClock) Now() time.Time { return time.Now().Round(0) }

// Shutdowner executes the shutdown sequence against hosts.
type Shutdowner interface {
	Execute(ctx context.Context, hosts []string) error
}

var _ Shutdowner = &shutdown.Trigger{}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Monitor polls the battery, writes the status log, and triggers the
// shutdown sequence. It owns the log state; nothing else mutates it.
type Monitor struct {
	conf    config.Config
	source  powerinfo.Source
	logger  *logfile.Logger
	trigger Shutdowner

	clock  Clock
	sleep  func(ctx context.Context, d time.Duration) error
	board  *StatusBoard
	hub    *events.EventHub
	banner []string

	state logfile.State
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithSleep replaces the wait between cycles. A non-nil error ends the loop
// as an interrupt.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// WithStatusBoard publishes the status after every cycle.
func WithStatusBoard(b *StatusBoard) Option {
	return func(m *Monitor) { m.board = b }
}

// WithEvents publishes poll, shutdown, and exit events to hub.
func WithEvents(hub *events.EventHub) Option {
	return func(m *Monitor) { m.hub = hub }
}

// WithBanner sets the lines written when the loop starts.
func WithBanner(lines ...string) Option {
	return func(m *Monitor) { m.banner = lines }
}

func NewMonitor(conf config.Config, source powerinfo.Source, logger *logfile.Logger, trigger Shutdowner, opts ...Option) *Monitor {
	m := &Monitor{
		conf:    conf,
		source:  source,
		logger:  logger,
		trigger: trigger,
		clock:   systemClock{},
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns a copy of the log state.
func (m *Monitor) State() logfile.State {
	return m.state.Clone()
}

// Run polls until the shutdown sequence runs, ctx is cancelled, or a fault
// occurs. Exactly one ExitMessage entry is written on every path.
func (m *Monitor) Run(ctx context.Context) (reason ExitReason, err error) {
	defer func() {
		if r := recover(); r != nil {
			fault := newFaultError(r, debug.Stack())
			m.writeImmediate(logrus.ErrorLevel, fault.LogMessage())
			reason, err = ExitFault, fault
		}
		m.board.setState(types.StateTerminating)
		m.writeImmediate(logrus.InfoLevel, ExitMessage)
		m.hub.Publish(events.Exit, events.ExitEvent{
			Reason: reason.String(),
			Ts:     m.clock.Now().Unix(),
		})
	}()

	for _, line := range m.banner {
		m.writeImmediate(logrus.InfoLevel, line)
	}
	m.board.setState(types.StateRunning)

	for {
		if m.cycle(ctx) {
			return ExitShutdownTriggered, nil
		}
		if err := m.sleep(ctx, m.conf.SleepInterval()); err != nil {
			logrus.WithError(err).Info("monitor interrupted")
			return ExitInterrupted, nil
		}
	}
}

// cycle performs one poll. It reports whether the shutdown sequence ran.
func (m *Monitor) cycle(ctx context.Context) bool {
	now := m.clock.Now()
	m.logger.EnsureRotated(&m.state, now)

	snap, err := m.source.Query()
	if err != nil {
		m.writeImmediateAt(logrus.ErrorLevel, fmt.Sprintf("Error querying battery status: %v", err), now)
		m.board.publish(now, nil, err, m.state)
		m.hub.Publish(events.Poll, events.PollEvent{Status: powerinfo.Unknown.String(), Error: err.Error(), Ts: now.Unix()})
		return false
	}
	// Published after the writes below so the board sees this cycle's log state.
	defer func() { m.board.publish(now, &snap, nil, m.state) }()
	m.hub.Publish(events.Poll, events.PollEvent{
		Status:                  snap.Status.String(),
		EstimatedRuntimeMinutes: snap.EstimatedRuntimeMinutes,
		ChargePercent:           snap.ChargePercent,
		Ts:                      now.Unix(),
	})

	if !snap.BatteryPresent() {
		m.writeImmediateAt(logrus.WarnLevel, snap.String(), now)
		return false
	}

	if snap.Status == powerinfo.OnPower {
		m.logger.WriteThrottled(&m.state, snap.String(), logfile.OnPower, m.conf.LogUpdateInterval(), now)
		return false
	}

	m.logger.WriteThrottled(&m.state, snap.String(), logfile.OnBattery, m.conf.LogOnBatteryInterval(), now)

	if !m.belowThreshold(snap) {
		return false
	}

	targets := shutdown.DescribeTargets(m.conf.ComputerNames)
	m.writeImmediateAt(logrus.WarnLevel, fmt.Sprintf(
		"Estimated runtime of %d minutes is below the %d minute threshold. Shutting down: %s",
		*snap.EstimatedRuntimeMinutes, m.conf.ShutDownRunTimeMinutes, targets), now)
	m.board.markShutdown()
	m.hub.Publish(events.Shutdown, events.ShutdownEvent{
		EstimatedRuntimeMinutes: *snap.EstimatedRuntimeMinutes,
		ThresholdMinutes:        m.conf.ShutDownRunTimeMinutes,
		Targets:                 targets,
		Ts:                      now.Unix(),
	})

	// The sequence is terminal; an interrupt arriving now must not cut it short.
	if err := m.trigger.Execute(context.WithoutCancel(ctx), m.conf.ComputerNames); err != nil {
		logrus.Errorf("shutdown sequence finished with errors: %v", err)
	}
	return true
}

func (m *Monitor) belowThreshold(snap powerinfo.Snapshot) bool {
	return snap.EstimatedRuntimeMinutes != nil && *snap.EstimatedRuntimeMinutes < m.conf.ShutDownRunTimeMinutes
}

func (m *Monitor) writeImmediate(level logrus.Level, msg string) {
	now := m.clock.Now()
	m.logger.EnsureRotated(&m.state, now)
	m.writeImmediateAt(level, msg, now)
}

// writeImmediateAt ignores write errors; the Logger already reported them.
func (m *Monitor) writeImmediateAt(level logrus.Level, msg string, now time.Time) {
	_ = m.logger.WriteImmediate(&m.state, level, msg, now)
}

// FaultError is an unhandled fault recovered at the top of the loop.
type FaultError struct {
	Kind    string
	Message string
	Stack   []byte
}

func newFaultError(r any, stack []byte) *FaultError {
	return &FaultError{
		Kind:    fmt.Sprintf("%T", r),
		Message: fmt.Sprint(r),
		Stack:   stack,
	}
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("unhandled fault (%s): %s", e.Kind, e.Message)
}

// LogMessage renders the fault with its stack trace for the log file.
func (e *FaultError) LogMessage() string {
	return fmt.Sprintf("Unhandled fault: %s\nKind: %s\nStack trace:\n%s", e.Message, e.Kind, strings.TrimSpace(string(e.Stack)))
}
