// Package logfile implements the append-only, date-rotating status log.
//
// The Logger itself is stateless apart from its configuration; the mutable
// part (last throttled write, current file) lives in a State value owned by
// the caller, so throttling can be driven with any clock.
package logfile

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// FileSuffix is appended to the date to form the daily log file name.
	FileSuffix = "_battery_status_log.txt"

	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// Category selects the throttle window a status write is subject to.
type Category int

const (
	// OnPower uses the minute-based update interval.
	OnPower Category = iota
	// OnBattery uses the second-based on-battery interval.
	OnBattery
)

func (c Category) String() string {
	if c == OnPower {
		return "onPower"
	}
	return "onBattery"
}

// State is the mutable log state. The zero value means "never logged".
type State struct {
	// LastLogTimestamp is the time of the last successful throttled write.
	LastLogTimestamp time.Time
	// CurrentLogFilePath is the file entries are appended to today.
	CurrentLogFilePath string

	lastByCategory map[Category]time.Time
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	s.lastByCategory = maps.Clone(s.lastByCategory)
	return s
}

// Logger writes entries to <dir>/<YYYY-MM-DD>_battery_status_log.txt and
// mirrors them to the console.
type Logger struct {
	dir string
	// independent gives each Category its own throttle timestamp instead of
	// sharing LastLogTimestamp.
	independent bool
	console     *logrus.Logger
}

// New returns a Logger writing into dir.
func New(dir string, independentWindows bool) *Logger {
	return &Logger{
		dir:         dir,
		independent: independentWindows,
		console:     logrus.StandardLogger(),
	}
}

// WithConsole replaces the console the Logger mirrors entries to.
func (l *Logger) WithConsole(console *logrus.Logger) *Logger {
	l.console = console
	return l
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Init creates the log directory if it does not exist yet.
func (l *Logger) Init() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create log directory %s", l.dir)
	}
	return nil
}

// PathFor returns the log file path for the calendar day of t.
func PathFor(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(dateLayout)+FileSuffix)
}

// EnsureRotated points st at the file for now's calendar day. It must run
// before any write in a cycle. It reports whether the path changed.
func (l *Logger) EnsureRotated(st *State, now time.Time) bool {
	p := PathFor(l.dir, now)
	if st.CurrentLogFilePath == p {
		return false
	}

	if st.CurrentLogFilePath != "" {
		l.console.WithFields(logrus.Fields{
			"from": st.CurrentLogFilePath,
			"to":   p,
		}).Info("log file rotated")
	}
	st.CurrentLogFilePath = p
	return true
}

// WriteThrottled writes msg only when more than interval has passed since the
// last throttled write (of the same category, with independent windows).
// It reports whether the entry was written.
func (l *Logger) WriteThrottled(st *State, msg string, cat Category, interval time.Duration, now time.Time) bool {
	last := st.LastLogTimestamp
	if l.independent {
		last = st.lastByCategory[cat]
	}

	if !last.IsZero() && now.Sub(last) <= interval {
		l.console.WithFields(logrus.Fields{
			"category": cat,
			"last":     last.Format(timestampLayout),
			"interval": interval.String(),
		}).Trace(msg)
		return false
	}

	if err := l.append(st, msg, now); err != nil {
		l.console.Errorf("failed to write log entry: %v", err)
		return false
	}
	l.console.WithField("category", cat).Debug(msg)

	if l.independent {
		if st.lastByCategory == nil {
			st.lastByCategory = make(map[Category]time.Time)
		}
		st.lastByCategory[cat] = now
	}
	if now.After(st.LastLogTimestamp) {
		st.LastLogTimestamp = now
	}
	return true
}

// WriteImmediate writes msg regardless of throttling and mirrors it to the
// console at level. A failed write is reported to the console and returned.
func (l *Logger) WriteImmediate(st *State, level logrus.Level, msg string, now time.Time) error {
	l.console.WithTime(now).Log(level, msg)

	if err := l.append(st, msg, now); err != nil {
		l.console.Errorf("failed to write log entry: %v", err)
		return err
	}
	return nil
}

// append opens, appends to, and closes the current file. No handle is kept.
func (l *Logger) append(st *State, msg string, now time.Time) error {
	if st.CurrentLogFilePath == "" {
		l.EnsureRotated(st, now)
	}

	f, err := os.OpenFile(st.CurrentLogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open log file %s", st.CurrentLogFilePath)
	}

	_, err = fmt.Fprintf(f, "[%s] %s\n", now.Format(timestampLayout), msg)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to append to log file %s", st.CurrentLogFilePath)
	}
	return nil
}
