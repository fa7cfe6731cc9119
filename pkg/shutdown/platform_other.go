//go:build !windows

package shutdown

import "runtime"

// NewPlatform returns the power-off primitive for this OS: the local
// shutdown command, and SSH for remote hosts.
func NewPlatform(opts SSHOptions) PowerOff {
	return &Router{
		Local:  NewCommand(runtime.GOOS),
		Remote: NewSSH(opts),
	}
}
