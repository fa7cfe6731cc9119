package events

import "encoding/json"

// Event name constants
const (
	Poll     = "monitor.poll"
	Shutdown = "monitor.shutdown"
	Exit     = "monitor.exit"
)

// Event is a generic SSE event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// PollEvent is the typed payload for monitor.poll.
type PollEvent struct {
	Status                  string `json:"status"`
	EstimatedRuntimeMinutes *int   `json:"estimatedRuntimeMinutes,omitempty"`
	ChargePercent           *int   `json:"chargePercent,omitempty"`
	Error                   string `json:"error,omitempty"`
	Ts                      int64  `json:"ts"`
}

// ShutdownEvent is the typed payload for monitor.shutdown.
type ShutdownEvent struct {
	EstimatedRuntimeMinutes int    `json:"estimatedRuntimeMinutes"`
	ThresholdMinutes        int    `json:"thresholdMinutes"`
	Targets                 string `json:"targets"`
	Ts                      int64  `json:"ts"`
}

// ExitEvent is the typed payload for monitor.exit.
type ExitEvent struct {
	Reason string `json:"reason"`
	Ts     int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.PollEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Status)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
