package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"vfspanel/internal/panel"
)

const defaultSSHTimeout = 15 * time.Second

// SFTPDialer opens SFTP sessions over SSH. Host keys are checked against
// an OpenSSH known_hosts file; unknown hosts are put to the operator and
// remembered when accepted.
type SFTPDialer struct {
	KnownHosts string
	Timeout    time.Duration
	// AgentSocket is the ssh-agent socket tried before passwords. Empty
	// disables the agent.
	AgentSocket string
}

var _ Dialer = (*SFTPDialer)(nil)

// DefaultKnownHostsPath returns ~/.ssh/known_hosts.
func DefaultKnownHostsPath() string {
	return filepath.Join(xdg.Home, ".ssh", "known_hosts")
}

// NewSFTPDialer creates an SFTPDialer using the user's known_hosts file and
// ssh-agent.
func NewSFTPDialer() *SFTPDialer {
	return &SFTPDialer{
		KnownHosts:  DefaultKnownHostsPath(),
		Timeout:     defaultSSHTimeout,
		AgentSocket: os.Getenv("SSH_AUTH_SOCK"),
	}
}

func (d *SFTPDialer) Dial(ctx context.Context, t Target, op *panel.Operation) (io.Closer, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultSSHTimeout
	}
	addr := t.Addr("22")

	var hostKeyErr error
	check := d.hostKeyCallback(ctx, op)
	cfg := &ssh.ClientConfig{
		User: t.User,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKeyErr = check(hostname, remote, key)
			return hostKeyErr
		},
		Timeout: timeout,
	}
	if cfg.User == "" {
		cfg.User = currentUser()
	}

	var agentConn net.Conn
	if d.AgentSocket != "" {
		if c, err := net.Dial("unix", d.AgentSocket); err == nil {
			agentConn = c
			cfg.Auth = append(cfg.Auth, ssh.PublicKeysCallback(agent.NewClient(c).Signers))
		}
	}
	if agentConn != nil {
		defer agentConn.Close()
	}
	if t.Password != "" {
		cfg.Auth = append(cfg.Auth,
			ssh.Password(t.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = t.Password
				}
				return answers, nil
			}),
		)
	}

	dialer := net.Dialer{Timeout: timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		_ = raw.Close()
		if hostKeyErr != nil {
			return nil, hostKeyErr
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("starting sftp subsystem on %s: %w", addr, err)
	}
	if _, err := sc.Getwd(); err != nil {
		_ = sc.Close()
		_ = client.Close()
		return nil, fmt.Errorf("probing sftp session on %s: %w", addr, err)
	}
	return &sftpConn{ssh: client, sftp: sc}, nil
}

func (d *SFTPDialer) Prompt(t Target) (string, panel.AskPasswordFlags) {
	return fmt.Sprintf("Enter password for %s", t.Name()), panel.NeedPassword | panel.NeedUsername
}

// hostKeyCallback verifies host keys against the known_hosts file. A host
// with no entry raises a question on op; a changed key is refused.
func (d *SFTPDialer) hostKeyCallback(ctx context.Context, op *panel.Operation) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := ensureFile(d.KnownHosts); err != nil {
			return err
		}
		check, err := knownhosts.New(d.KnownHosts)
		if err != nil {
			return fmt.Errorf("reading %s: %w", d.KnownHosts, err)
		}

		err = check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return panel.NewBackendError(ErrorDomain, panel.CodePermissionDenied, err,
				"host key of %s does not match %s", hostname, keyErr.Want[0].String())
		}

		message := fmt.Sprintf("The identity of %s cannot be verified.\nThe %s key fingerprint is %s.\nConnect anyway?",
			hostname, key.Type(), ssh.FingerprintSHA256(key))
		choice, err := op.Ask(ctx, message, []string{"Log In Anyway", "Cancel Login"}, 1)
		if err != nil {
			return panel.NewBackendError(ErrorDomain, panel.CodeCancelled, err, "host key question cancelled")
		}
		if choice != 0 {
			return panel.NewBackendError(ErrorDomain, panel.CodeFailedHandled, nil, "host key of %s not accepted", hostname)
		}
		return d.remember(hostname, key)
	}
}

func (d *SFTPDialer) remember(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(d.KnownHosts, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", d.KnownHosts, err)
	}
	defer f.Close()
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("writing %s: %w", d.KnownHosts, err)
	}
	return nil
}

func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return f.Close()
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return filepath.Base(xdg.Home)
}

type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpConn) Close() error {
	err := c.sftp.Close()
	if cerr := c.ssh.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}

// Wait blocks until the SSH connection ends.
func (c *sftpConn) Wait() error {
	return c.ssh.Wait()
}
