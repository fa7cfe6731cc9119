package shutdown

import (
	"context"
	"os/exec"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// runFunc runs a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Command powers hosts off by running the OS shutdown command.
type Command struct {
	goos string
	run  runFunc
}

var _ PowerOff = &Command{}

// NewCommand returns a Command building arguments for goos.
func NewCommand(goos string) *Command {
	return &Command{goos: goos, run: runCommand}
}

// PowerOff runs the shutdown command for host. Remote hosts are only
// reachable this way on Windows.
func (c *Command) PowerOff(ctx context.Context, host string) error {
	name, args, err := shutdownCommand(c.goos, host)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"command": name,
		"args":    args,
	}).Debug("running shutdown command")

	out, err := c.run(ctx, name, args...)
	if err != nil {
		return pkgerrors.Wrapf(err, "%s %s failed: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return nil
}

// shutdownCommand returns the forced, immediate power-off command for host.
func shutdownCommand(goos, host string) (string, []string, error) {
	if goos == "windows" {
		args := []string{"/s", "/f", "/t", "0"}
		if host != "" {
			args = append(args, "/m", `\\`+host)
		}
		return "shutdown.exe", args, nil
	}

	if host != "" {
		return "", nil, pkgerrors.Errorf("remote shutdown of %s is not supported by the %s shutdown command", host, goos)
	}
	return "shutdown", []string{"-h", "now"}, nil
}

// Router sends the local machine and remote hosts to different primitives.
type Router struct {
	Local  PowerOff
	Remote PowerOff
}

var _ PowerOff = &Router{}

func (r *Router) PowerOff(ctx context.Context, host string) error {
	if host == "" {
		return r.Local.PowerOff(ctx, host)
	}
	return r.Remote.PowerOff(ctx, host)
}

// DryRun only logs the requests it would have made.
type DryRun struct{}

var _ PowerOff = DryRun{}

func (DryRun) PowerOff(_ context.Context, host string) error {
	logrus.WithField("host", DisplayName(host)).Warn("dry run: skipping power-off request")
	return nil
}
