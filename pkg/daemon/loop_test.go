package daemon

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mennotech/win-auto-shutdown/pkg/config"
	"github.com/mennotech/win-auto-shutdown/pkg/events"
	"github.com/mennotech/win-auto-shutdown/pkg/logfile"
	"github.com/mennotech/win-auto-shutdown/pkg/powerinfo"
	"github.com/mennotech/win-auto-shutdown/pkg/types"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.Local)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type queryResult struct {
	snap powerinfo.Snapshot
	err  error
}

// scriptedSource returns its results in order and repeats the last one.
type scriptedSource struct {
	results []queryResult
	calls   int
}

func (s *scriptedSource) Query() (powerinfo.Snapshot, error) {
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.snap, r.err
}

type panickingSource struct{}

func (panickingSource) Query() (powerinfo.Snapshot, error) {
	panic("battery driver exploded")
}

type fakeTrigger struct {
	calls [][]string
}

func (f *fakeTrigger) Execute(_ context.Context, hosts []string) error {
	f.calls = append(f.calls, hosts)
	return nil
}

type harness struct {
	clock   *fakeClock
	trigger *fakeTrigger
	logger  *logfile.Logger
	monitor *Monitor
	cycles  int
}

func testConfig() config.Config {
	return config.Config{
		ShutDownRunTimeMinutes:      10,
		LogUpdateIntervalMinutes:    5,
		LogOnBatteryIntervalSeconds: 30,
		SleepIntervalSeconds:        60,
	}
}

// newHarness builds a monitor whose sleep advances the fake clock and
// interrupts the loop after maxCycles cycles.
func newHarness(t *testing.T, conf config.Config, source powerinfo.Source, maxCycles int, opts ...Option) *harness {
	t.Helper()

	console, _ := logrustest.NewNullLogger()
	logger := logfile.New(t.TempDir(), conf.IndependentThrottleWindows).WithConsole(console)
	require.NoError(t, logger.Init())

	h := &harness{
		clock:   &fakeClock{now: t0},
		trigger: &fakeTrigger{},
		logger:  logger,
	}

	sleep := func(_ context.Context, d time.Duration) error {
		h.cycles++
		if h.cycles >= maxCycles {
			return context.Canceled
		}
		h.clock.now = h.clock.now.Add(d)
		return nil
	}

	opts = append([]Option{WithClock(h.clock), WithSleep(sleep)}, opts...)
	h.monitor = NewMonitor(conf, source, logger, h.trigger, opts...)
	return h
}

func (h *harness) lines(t *testing.T) []string {
	t.Helper()
	b, err := os.ReadFile(logfile.PathFor(h.logger.Dir(), t0))
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func countContaining(lines []string, sub string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, sub) {
			n++
		}
	}
	return n
}

func intPtr(i int) *int { return &i }

func TestOnPowerUsesMinuteThrottle(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	// 10 cycles, one minute apart: t0, t0+1m, ..., t0+9m.
	h := newHarness(t, testConfig(), src, 10)

	reason, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitInterrupted, reason)

	lines := h.lines(t)
	// Written at t0 and at t0+6m; t0+5m is not strictly past the window.
	assert.Equal(t, 2, countContaining(lines, "Battery status: OnPower"))
	assert.Equal(t, t0.Add(6*time.Minute), h.monitor.State().LastLogTimestamp)
	assert.Empty(t, h.trigger.calls)
}

func TestDischargingBelowThresholdTriggersShutdownOnce(t *testing.T) {
	conf := testConfig()
	conf.ComputerNames = []string{"A", "B"}
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: intPtr(30)}},
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: intPtr(5)}},
	}}
	h := newHarness(t, conf, src, 100)

	reason, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitShutdownTriggered, reason)

	require.Len(t, h.trigger.calls, 1)
	assert.Equal(t, []string{"A", "B"}, h.trigger.calls[0])
	assert.Equal(t, 3, src.calls)

	lines := h.lines(t)
	assert.Equal(t, 1, countContaining(lines, "is below the 10 minute threshold. Shutting down: A, B"))
	assert.Equal(t, 1, countContaining(lines, ExitMessage))
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], ExitMessage))
}

func TestUnknownStatusBelowThresholdTriggersShutdown(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.Unknown, EstimatedRuntimeMinutes: intPtr(3)}},
	}}
	h := newHarness(t, testConfig(), src, 100)

	reason, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitShutdownTriggered, reason)
	require.Len(t, h.trigger.calls, 1)
	assert.Empty(t, h.trigger.calls[0])
	assert.Equal(t, 1, countContaining(h.lines(t), "Shutting down: local machine"))
}

func TestNoShutdownWithoutRuntimeOrAtThreshold(t *testing.T) {
	tests := []struct {
		name    string
		runtime *int
	}{
		{"runtime absent", nil},
		{"runtime equal to threshold", intPtr(10)},
		{"runtime above threshold", intPtr(11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{results: []queryResult{
				{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: tt.runtime}},
			}}
			h := newHarness(t, testConfig(), src, 50)

			reason, err := h.monitor.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ExitInterrupted, reason)
			assert.Empty(t, h.trigger.calls)
			assert.Equal(t, 50, src.calls)
		})
	}
}

func TestDischargingUsesSecondThrottle(t *testing.T) {
	conf := testConfig()
	conf.SleepIntervalSeconds = 10
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging}},
	}}
	// 7 cycles at t0, +10s, ..., +60s. Writes at t0 and t0+40s.
	h := newHarness(t, conf, src, 7)

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, countContaining(h.lines(t), "Battery status: Discharging"))
}

func TestQueryErrorIsLoggedImmediately(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
		{err: &powerinfo.QueryError{Err: errors.New("device unreachable")}},
		{err: &powerinfo.QueryError{Err: errors.New("device unreachable")}},
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: intPtr(1)}},
	}}
	h := newHarness(t, testConfig(), src, 100)

	reason, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitShutdownTriggered, reason)

	lines := h.lines(t)
	assert.Equal(t, 2, countContaining(lines, "Error querying battery status"))
	// The on-power write at t0 is the only throttled write before the battery cycle.
	assert.Equal(t, t0.Add(3*time.Minute), h.monitor.State().LastLogTimestamp)
	require.Len(t, h.trigger.calls, 1)
}

func TestQueryErrorDoesNotTouchThrottle(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{err: errors.New("access denied")},
	}}
	h := newHarness(t, testConfig(), src, 1)

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, h.monitor.State().LastLogTimestamp.IsZero())
	assert.Equal(t, 1, countContaining(h.lines(t), "Error querying battery status: access denied"))
}

func TestNoBatteryThenOnPower(t *testing.T) {
	noBattery := queryResult{snap: powerinfo.Snapshot{Status: powerinfo.NoBatteryPresent}}
	onPower := queryResult{snap: powerinfo.Snapshot{Status: powerinfo.OnPower, ChargePercent: intPtr(100)}}
	src := &scriptedSource{results: []queryResult{
		noBattery, noBattery, noBattery, noBattery,
		onPower,
	}}
	// Cycles 1-4 without battery, cycles 5-10 on power at t0+4m..t0+9m.
	h := newHarness(t, testConfig(), src, 10)

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)

	lines := h.lines(t)
	assert.Equal(t, 4, countContaining(lines, "No battery detected"))
	// On power from t0+4m; the next write would need more than five more minutes.
	assert.Equal(t, 1, countContaining(lines, "Battery status: OnPower"))
	assert.Equal(t, t0.Add(4*time.Minute), h.monitor.State().LastLogTimestamp)
}

func TestSharedThrottleAcrossPowerStates(t *testing.T) {
	conf := testConfig()
	conf.LogUpdateIntervalMinutes = 60
	conf.LogOnBatteryIntervalSeconds = 90
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging}},
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	h := newHarness(t, conf, src, 3)

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	// The discharging write at t0 holds back the on-power write for an hour.
	assert.Equal(t, 0, countContaining(h.lines(t), "Battery status: OnPower"))
}

func TestIndependentThrottleAcrossPowerStates(t *testing.T) {
	conf := testConfig()
	conf.LogUpdateIntervalMinutes = 60
	conf.LogOnBatteryIntervalSeconds = 90
	conf.IndependentThrottleWindows = true
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging}},
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	h := newHarness(t, conf, src, 3)

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, countContaining(h.lines(t), "Battery status: OnPower"))
}

func TestBannerAndExitMessage(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	h := newHarness(t, testConfig(), src, 1, WithBanner("Monitor started", "second banner line"))

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)

	lines := h.lines(t)
	require.Len(t, lines, 4)
	assert.Equal(t, "[2026-03-14 08:00:00] Monitor started", lines[0])
	assert.Equal(t, "[2026-03-14 08:00:00] second banner line", lines[1])
	assert.Equal(t, "[2026-03-14 08:00:00] "+ExitMessage, lines[3])
}

func TestInterruptWritesExitMessageOnce(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	console, _ := logrustest.NewNullLogger()
	logger := logfile.New(t.TempDir(), false).WithConsole(console)
	require.NoError(t, logger.Init())

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(testConfig(), src, logger, &fakeTrigger{}, WithClock(&fakeClock{now: t0}))

	done := make(chan struct{})
	var reason ExitReason
	go func() {
		defer close(done)
		reason, _ = m.Run(ctx)
	}()

	// The real sleep waits SleepIntervalSeconds; cancelling must end it.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	assert.Equal(t, ExitInterrupted, reason)
	b, err := os.ReadFile(logfile.PathFor(logger.Dir(), t0))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), ExitMessage))
}

func TestUnhandledFaultIsLogged(t *testing.T) {
	h := newHarness(t, testConfig(), panickingSource{}, 10)

	reason, err := h.monitor.Run(context.Background())
	assert.Equal(t, ExitFault, reason)

	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "string", fault.Kind)
	assert.Equal(t, "battery driver exploded", fault.Message)

	content := strings.Join(h.lines(t), "\n")
	assert.Contains(t, content, "Unhandled fault: battery driver exploded")
	assert.Contains(t, content, "Stack trace:")
	assert.Equal(t, 1, strings.Count(content, ExitMessage))
	assert.True(t, strings.HasSuffix(content, ExitMessage))
}

func TestStatusBoardIsPublished(t *testing.T) {
	board := NewStatusBoard("run-1", t0)
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower, ChargePercent: intPtr(97)}},
	}}
	h := newHarness(t, testConfig(), src, 2, WithStatusBoard(board))

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)

	s := board.Get()
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, types.StateTerminating, s.State)
	assert.False(t, s.ShutdownTriggered)
	require.NotNil(t, s.Snapshot)
	assert.Equal(t, powerinfo.OnPower, s.Snapshot.Status)
	assert.Equal(t, t0.Add(time.Minute), s.LastPollAt)
	require.NotNil(t, s.LastLogTimestamp)
	assert.Equal(t, t0, *s.LastLogTimestamp)
	assert.Equal(t, logfile.PathFor(h.logger.Dir(), t0), s.CurrentLogFilePath)
}

func TestStatusBoardShowsCurrentCycleLogState(t *testing.T) {
	board := NewStatusBoard("run-1", t0)
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
	}}
	h := newHarness(t, testConfig(), src, 1, WithStatusBoard(board))

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, t0, h.monitor.State().LastLogTimestamp)
	s := board.Get()
	require.NotNil(t, s.LastLogTimestamp)
	assert.Equal(t, t0, *s.LastLogTimestamp)
}

func TestWriteFailureDoesNotStopMonitoring(t *testing.T) {
	console, hook := logrustest.NewNullLogger()
	logger := logfile.New(t.TempDir()+"/missing", false).WithConsole(console)
	src := &scriptedSource{results: []queryResult{
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: intPtr(2)}},
	}}
	trigger := &fakeTrigger{}
	clock := &fakeClock{now: t0}
	m := NewMonitor(testConfig(), src, logger, trigger,
		WithClock(clock),
		WithSleep(func(context.Context, time.Duration) error { clock.now = clock.now.Add(time.Minute); return nil }),
	)

	reason, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitShutdownTriggered, reason)
	assert.Len(t, trigger.calls, 1)

	var errorEntries int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorEntries++
		}
	}
	assert.Positive(t, errorEntries)
}

func TestEventsArePublished(t *testing.T) {
	src := &scriptedSource{results: []queryResult{
		{err: &powerinfo.QueryError{Err: errors.New("device busy")}},
		{snap: powerinfo.Snapshot{Status: powerinfo.OnPower}},
		{snap: powerinfo.Snapshot{Status: powerinfo.Discharging, EstimatedRuntimeMinutes: intPtr(4)}},
	}}
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	h := newHarness(t, testConfig(), src, 100, WithEvents(hub))

	_, err := h.monitor.Run(context.Background())
	require.NoError(t, err)
	hub.Close()

	var names []string
	var last events.Event
	for ev := range ch {
		names = append(names, ev.Name)
		last = ev
		if ev.Name == events.Shutdown {
			payload, err := events.DecodeAs[events.ShutdownEvent](ev)
			require.NoError(t, err)
			assert.Equal(t, 4, payload.EstimatedRuntimeMinutes)
			assert.Equal(t, "local machine", payload.Targets)
		}
	}
	assert.Equal(t, []string{events.Poll, events.Poll, events.Poll, events.Shutdown, events.Exit}, names)

	exit, err := events.DecodeAs[events.ExitEvent](last)
	require.NoError(t, err)
	assert.Equal(t, ExitShutdownTriggered.String(), exit.Reason)
}
