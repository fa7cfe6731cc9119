package shutdown

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultSSHCommand is run on remote Linux and Unix hosts. sudo must not prompt.
	DefaultSSHCommand = "sudo -n shutdown -h now"
	// WindowsSSHCommand is run on remote Windows hosts with OpenSSH server.
	WindowsSSHCommand = "shutdown /s /f /t 0"
	// DefaultSSHPort is used for hosts given without a port.
	DefaultSSHPort = 22
)

// SSHOptions configures remote power-off over SSH.
type SSHOptions struct {
	// User defaults to the current user.
	User string
	// IdentityFile is an optional private key. The SSH agent from
	// SSH_AUTH_SOCK is used as well when available.
	IdentityFile string
	// KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile string
	// Port is used for hosts given without a port. Defaults to 22.
	Port int
	// OS of the remote hosts, "linux" (default) or "windows". It picks the
	// default Command.
	OS string
	// Command defaults to the shutdown command for OS.
	Command string
}

// SSH powers off remote hosts by running a shutdown command over SSH.
type SSH struct {
	opts SSHOptions
}

var _ PowerOff = &SSH{}

func NewSSH(opts SSHOptions) *SSH {
	if opts.Command == "" {
		opts.Command = DefaultSSHCommand
		if opts.OS == "windows" {
			opts.Command = WindowsSSHCommand
		}
	}
	if opts.Port == 0 {
		opts.Port = DefaultSSHPort
	}
	return &SSH{opts: opts}
}

// address returns host:port, keeping a port given in host.
func (s *SSH) address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(s.opts.Port))
}

func (s *SSH) PowerOff(ctx context.Context, host string) error {
	if host == "" {
		return pkgerrors.New("ssh power-off needs a remote host")
	}

	cfg, closeAuth, err := s.clientConfig()
	if err != nil {
		return err
	}
	defer closeAuth()

	addr := s.address(host)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to dial %s", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		return pkgerrors.Wrapf(err, "ssh handshake with %s failed", addr)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open ssh session on %s", addr)
	}
	defer session.Close()

	logrus.WithFields(logrus.Fields{
		"host":    addr,
		"user":    cfg.User,
		"command": s.opts.Command,
	}).Debug("running remote shutdown command")

	out, err := session.CombinedOutput(s.opts.Command)
	if err != nil {
		// The host may drop the connection before reporting an exit status.
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) || errors.Is(err, io.EOF) {
			return nil
		}
		return pkgerrors.Wrapf(err, "remote shutdown command on %s failed: %s", addr, string(out))
	}
	return nil
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, func(), error) {
	closeAuth := func() {}

	username := s.opts.User
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return nil, closeAuth, pkgerrors.Wrap(err, "failed to determine current user")
		}
		username = u.Username
	}

	knownHostsFile := s.opts.KnownHostsFile
	if knownHostsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, closeAuth, pkgerrors.Wrap(err, "failed to locate known_hosts")
		}
		knownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
	}
	hostKeyCallback, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, closeAuth, pkgerrors.Wrapf(err, "failed to load known hosts from %s", knownHostsFile)
	}

	var auths []ssh.AuthMethod

	if s.opts.IdentityFile != "" {
		key, err := os.ReadFile(s.opts.IdentityFile)
		if err != nil {
			return nil, closeAuth, pkgerrors.Wrapf(err, "failed to read identity file %s", s.opts.IdentityFile)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, closeAuth, pkgerrors.Wrapf(err, "failed to parse identity file %s", s.opts.IdentityFile)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		agentConn, err := net.Dial("unix", sock)
		if err != nil {
			logrus.Warnf("failed to connect to ssh agent: %v", err)
		} else {
			closeAuth = func() { _ = agentConn.Close() }
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
		}
	}

	if len(auths) == 0 {
		return nil, closeAuth, pkgerrors.New("no ssh credentials: set SSHIdentityFile or run an ssh agent")
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
	}, closeAuth, nil
}
