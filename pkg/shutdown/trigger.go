package shutdown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PowerOff issues a forced power-off request to host. An empty host means
// the local machine.
type PowerOff interface {
	PowerOff(ctx context.Context, host string) error
}

// HostError is the failure of a single host's power-off request.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("failed to power off %s: %v", DisplayName(e.Host), e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// DisplayName renders a target host for messages.
func DisplayName(host string) string {
	if host == "" {
		return "local machine"
	}
	return host
}

// Trigger runs the one-shot shutdown sequence.
type Trigger struct {
	powerOff PowerOff
	timeout  time.Duration
}

// NewTrigger returns a Trigger bounding each request by timeout.
// A timeout <= 0 leaves requests unbounded.
func NewTrigger(p PowerOff, timeout time.Duration) *Trigger {
	return &Trigger{
		powerOff: p,
		timeout:  timeout,
	}
}

// Targets returns the hosts Execute will power off, in order.
func Targets(hosts []string) []string {
	if len(hosts) == 0 {
		return []string{""}
	}
	return hosts
}

// DescribeTargets lists the display names of the targets of hosts.
func DescribeTargets(hosts []string) string {
	names := make([]string, 0, len(hosts))
	for _, h := range Targets(hosts) {
		names = append(names, DisplayName(h))
	}
	return strings.Join(names, ", ")
}

// Execute powers off every host in order, or the local machine when hosts
// is empty. A failing host does not stop the remaining ones. The returned
// error joins every *HostError.
func (t *Trigger) Execute(ctx context.Context, hosts []string) error {
	var errs []error

	for _, host := range Targets(hosts) {
		entry := logrus.WithField("host", DisplayName(host))
		entry.Warn("requesting forced power-off")

		if err := t.powerOffOne(ctx, host); err != nil {
			herr := &HostError{Host: host, Err: err}
			entry.Error(herr.Error())
			errs = append(errs, herr)
			continue
		}

		entry.Info("power-off request issued")
	}

	return errors.Join(errs...)
}

func (t *Trigger) powerOffOne(ctx context.Context, host string) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.powerOff.PowerOff(ctx, host)
}
