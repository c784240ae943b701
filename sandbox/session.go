package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy selects how the sandbox's SSH host key is verified.
type HostKeyPolicy string

const (
	// HostKeyInsecure accepts whatever host key the sandbox presents.
	// The default: sandboxes are disposable, freshly provisioned, and
	// reached over a host-local port, so there is no prior identity to
	// verify against.
	HostKeyInsecure HostKeyPolicy = "insecure"

	// HostKeyKnownHosts verifies the host key against an OpenSSH
	// known_hosts file.
	HostKeyKnownHosts HostKeyPolicy = "known-hosts"
)

// remoteSession is one authenticated shell channel into a running sandbox.
type remoteSession interface {
	// Run executes command remotely and blocks until the remote process
	// has exited, returning its exit status. Output is not captured.
	Run(ctx context.Context, command string, timeout time.Duration) (int, error)

	// IsAlive reports whether the underlying transport is still usable.
	IsAlive() bool

	Close() error
}

// sessionParams carries everything needed to open a session.
type sessionParams struct {
	Host           string
	Port           int
	User           string
	Signer         ssh.Signer
	ConnectTimeout time.Duration
	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string
}

// sessionDialer opens a remoteSession. Injected into sandboxes so tests
// run without a network or an sshd.
type sessionDialer func(ctx context.Context, params sessionParams) (remoteSession, error)

// dialSession is the production dialer on golang.org/x/crypto/ssh.
func dialSession(ctx context.Context, params sessionParams) (remoteSession, error) {
	hostKeys, err := hostKeyCallback(params.HostKeyPolicy, params.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: host key policy: %v", ErrConnectFailed, err)
	}

	config := &ssh.ClientConfig{
		User:            params.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(params.Signer)},
		HostKeyCallback: hostKeys,
		Timeout:         params.ConnectTimeout,
	}

	addr := net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	dialer := &net.Dialer{Timeout: params.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnectFailed, addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnectFailed, addr, err)
	}

	return &sshSession{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

func hostKeyCallback(policy HostKeyPolicy, knownHostsPath string) (ssh.HostKeyCallback, error) {
	switch policy {
	case HostKeyInsecure, "":
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Deliberate trust-on-first-use for disposable sandboxes.
	case HostKeyKnownHosts:
		path, err := expandHome(knownHostsPath)
		if err != nil {
			return nil, err
		}
		return knownhosts.New(path)
	default:
		return nil, fmt.Errorf("unknown host key policy: %s", policy)
	}
}

// loadSigner reads and parses the SSH private key at path. A missing or
// unparsable key is a CredentialMissing failure: no session can ever be
// established without it.
func loadSigner(path string) (ssh.Signer, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialMissing, err)
	}

	keyData, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCredentialMissing, expanded, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCredentialMissing, expanded, err)
	}
	return signer, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory for %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// sshSession adapts an ssh.Client to the remoteSession interface.
type sshSession struct {
	client *ssh.Client
}

// Run opens a channel, starts the command, and waits for the remote
// exit status. A non-zero remote exit is a result, not an error.
func (s *sshSession) Run(ctx context.Context, command string, timeout time.Duration) (int, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return 0, fmt.Errorf("%w: opening channel: %v", ErrConnectFailed, err)
	}
	defer sess.Close()

	if err := sess.Start(command); err != nil {
		return 0, fmt.Errorf("%w: starting command: %v", ErrConnectFailed, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: waiting for exit status: %v", ErrConnectFailed, err)
		}
		return 0, nil
	case <-timer.C:
		return 0, fmt.Errorf("%w: after %s: %s", ErrCommandTimeout, timeout, command)
	case <-ctx.Done():
		return 0, fmt.Errorf("command aborted: %w", ctx.Err())
	}
}

// IsAlive probes the transport with an OpenSSH keepalive request.
func (s *sshSession) IsAlive() bool {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
