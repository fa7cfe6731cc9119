package powerinfo

import (
	"fmt"
	"strings"
)

// PowerStatus is the power source state derived from the platform battery state.
type PowerStatus int

const (
	// Unknown indicates the platform could not tell whether external power is present.
	Unknown PowerStatus = iota
	// OnPower indicates the device is receiving external power.
	OnPower
	// Discharging indicates the device is running off its battery.
	Discharging
	// NoBatteryPresent indicates no battery device exists on this host.
	NoBatteryPresent
)

func (s PowerStatus) String() string {
	switch s {
	case OnPower:
		return "OnPower"
	case Discharging:
		return "Discharging"
	case NoBatteryPresent:
		return "NoBatteryPresent"
	default:
		return "Unknown"
	}
}

func (s PowerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PowerStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "OnPower":
		*s = OnPower
	case "Discharging":
		*s = Discharging
	case "NoBatteryPresent":
		*s = NoBatteryPresent
	case "Unknown":
		*s = Unknown
	default:
		return fmt.Errorf("unknown power status %q", string(b))
	}
	return nil
}

// Snapshot is the battery state returned by a single query.
// Optional values are nil when the platform cannot report them.
type Snapshot struct {
	Status                  PowerStatus `json:"status"`
	EstimatedRuntimeMinutes *int        `json:"estimatedRuntimeMinutes,omitempty"`
	ChargePercent           *int        `json:"chargePercent,omitempty"`
}

// BatteryPresent reports whether the snapshot describes a real battery.
func (s Snapshot) BatteryPresent() bool {
	return s.Status != NoBatteryPresent
}

// String renders the snapshot as the status line written to the log.
func (s Snapshot) String() string {
	if !s.BatteryPresent() {
		return "No battery detected"
	}

	parts := []string{fmt.Sprintf("Battery status: %s", s.Status)}
	if s.EstimatedRuntimeMinutes != nil {
		parts = append(parts, fmt.Sprintf("estimated runtime: %d minutes", *s.EstimatedRuntimeMinutes))
	} else {
		parts = append(parts, "estimated runtime: unknown")
	}
	if s.ChargePercent != nil {
		parts = append(parts, fmt.Sprintf("charge: %d%%", *s.ChargePercent))
	}
	return strings.Join(parts, ", ")
}
