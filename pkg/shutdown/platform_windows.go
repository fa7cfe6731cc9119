//go:build windows

package shutdown

// NewPlatform returns the power-off primitive for this OS. Windows reaches
// remote hosts through shutdown.exe /m, so SSH options are unused.
func NewPlatform(_ SSHOptions) PowerOff {
	return NewCommand("windows")
}
