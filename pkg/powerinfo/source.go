package powerinfo

import (
	"errors"
	"math"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Source returns the current battery snapshot. A failing query is reported
// as *QueryError; a host without a battery is not an error.
type Source interface {
	Query() (Snapshot, error)
}

// QueryError means the platform battery query failed. It is transient.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// SystemSource queries the OS battery abstraction.
type SystemSource struct {
	getAll func() ([]*battery.Battery, error)
}

var _ Source = &SystemSource{}

// NewSystemSource returns a Source backed by the platform battery API.
func NewSystemSource() *SystemSource {
	return &SystemSource{getAll: battery.GetAll}
}

// Query reads the first usable battery. A UPS exposed through the OS battery
// API shows up here like a laptop battery does.
//
// The platform may fail to read some fields of a battery, typically voltage or
// rate on UPS devices. Such a battery is still used as long as its state was
// read; values derived from a failed field are left out.
func (s *SystemSource) Query() (Snapshot, error) {
	batteries, err := s.getAll()
	var perBattery battery.Errors
	if err != nil && !errors.As(err, &perBattery) {
		return Snapshot{}, &QueryError{Err: pkgerrors.Wrap(err, "failed to get batteries")}
	}

	if len(batteries) == 0 {
		if err != nil {
			return Snapshot{}, &QueryError{Err: pkgerrors.Wrap(err, "failed to get batteries")}
		}
		return Snapshot{Status: NoBatteryPresent}, nil
	}

	if len(batteries) > 1 {
		logrus.WithField("count", len(batteries)).Trace("more than one battery found, using the first usable one")
	}

	for i, bat := range batteries {
		var batErr error
		if i < len(perBattery) {
			batErr = perBattery[i]
		}
		partial, ok := usable(bat, batErr)
		if !ok {
			logrus.WithField("index", i).WithError(batErr).Debug("battery unreadable, skipped")
			continue
		}
		if batErr != nil {
			logrus.WithField("index", i).WithError(batErr).Debug("battery partially read")
		}
		return snapshotOf(bat, partial), nil
	}

	if err == nil {
		err = errors.New("no readable battery")
	}
	return Snapshot{}, &QueryError{Err: pkgerrors.Wrap(err, "failed to get batteries")}
}

// usable reports whether bat can be used given its per-battery error, and
// which of its fields failed.
func usable(bat *battery.Battery, err error) (battery.ErrPartial, bool) {
	if bat == nil {
		return battery.ErrPartial{}, false
	}
	if err == nil {
		return battery.ErrPartial{}, true
	}
	var partial battery.ErrPartial
	if !errors.As(err, &partial) || partial.State != nil {
		return battery.ErrPartial{}, false
	}
	return partial, true
}

func snapshotOf(bat *battery.Battery, failed battery.ErrPartial) Snapshot {
	snap := Snapshot{Status: statusOf(bat.State)}

	if failed.Current == nil && failed.Full == nil && bat.Full > 0 {
		charge := int(math.Round(bat.Current / bat.Full * 100))
		snap.ChargePercent = &charge
	}

	// ChargeRate is in mW and Current in mWh. Only a discharging battery
	// has a meaningful remaining runtime.
	if snap.Status == Discharging && failed.Current == nil && failed.ChargeRate == nil &&
		bat.ChargeRate > 0 && bat.Current > 0 {
		minutes := int(bat.Current / bat.ChargeRate * 60)
		snap.EstimatedRuntimeMinutes = &minutes
	}

	return snap
}

func statusOf(state battery.State) PowerStatus {
	switch state {
	case battery.Charging, battery.Full:
		return OnPower
	case battery.Discharging, battery.Empty:
		return Discharging
	default:
		return Unknown
	}
}
