package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/kilpatrickap/dawnyawn-v3/engine"
)

// Status is the lifecycle state of a sandbox.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusRemoved Status = "removed"
)

// Config holds sandbox provisioning and connection settings.
type Config struct {
	// Image is the pre-built sandbox image; it must carry an sshd and
	// the pre-provisioned public key for SSHUser.
	Image string

	// Command keeps the container alive, normally the SSH daemon in
	// the foreground.
	Command []string

	// ServicePort is the in-container SSH port published to the host.
	ServicePort nat.Port

	SSHHost        string
	SSHUser        string
	KeyPath        string
	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string

	// PingTimeout bounds the engine liveness check at manager construction.
	PingTimeout time.Duration

	// ConnectTimeout bounds a single SSH dial attempt.
	ConnectTimeout time.Duration

	// CommandTimeout is the default Execute timeout.
	CommandTimeout time.Duration

	// ReadyTimeout bounds how long a freshly started container gets to
	// bring up its sshd before connection attempts stop.
	ReadyTimeout time.Duration

	// ReadyPollInterval is the initial delay between SSH handshake
	// attempts while waiting for readiness; it doubles on every retry.
	ReadyPollInterval time.Duration
}

// DefaultConfig returns the stock sandbox settings.
func DefaultConfig() *Config {
	return &Config{
		Image:             "dawnyawn-kali-agent",
		Command:           []string{"/usr/sbin/sshd", "-D"},
		ServicePort:       "22/tcp",
		SSHHost:           "localhost",
		SSHUser:           "root",
		KeyPath:           "~/.ssh/id_ecdsa",
		HostKeyPolicy:     HostKeyInsecure,
		PingTimeout:       5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		CommandTimeout:    1800 * time.Second,
		ReadyTimeout:      60 * time.Second,
		ReadyPollInterval: 500 * time.Millisecond,
	}
}

// Sandbox is one isolated execution environment: a container plus a
// lazily-connected SSH session into it. A sandbox is exclusively owned
// by the caller that created it; an internal mutex serializes Execute,
// RetrieveFile, and Destroy so concurrent misuse cannot interleave
// lifecycle transitions.
type Sandbox struct {
	id      string
	shortID string

	engine    engine.Client
	logger    *zap.Logger
	cfg       *Config
	retriever *ArtifactRetriever
	dial      sessionDialer

	mu        sync.Mutex
	status    Status
	session   remoteSession
	destroyed bool
}

// ID returns the full container ID backing this sandbox.
func (s *Sandbox) ID() string { return s.id }

// ShortID returns the abbreviated container ID used in logs and as the
// sandbox handle.
func (s *Sandbox) ShortID() string { return s.shortID }

// Status returns the current lifecycle state.
func (s *Sandbox) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Execute runs command inside the sandbox and blocks until the remote
// process has exited, returning its exit status. A timeout of zero uses
// the configured default. Output is not captured: commands are expected
// to redirect into files retrieved separately with RetrieveFile.
func (s *Sandbox) Execute(ctx context.Context, command string, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return 0, fmt.Errorf("%w: sandbox %s is destroyed", ErrConnectFailed, s.shortID)
	}

	if err := s.ensureRunning(ctx); err != nil {
		return 0, err
	}
	if err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}

	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}

	s.logger.Info("executing command",
		zap.String("sandbox", s.shortID),
		zap.String("command", command),
		zap.Duration("timeout", timeout))

	exitStatus, err := s.session.Run(ctx, command, timeout)
	if err != nil {
		return 0, err
	}

	s.logger.Info("command finished",
		zap.String("sandbox", s.shortID),
		zap.Int("exit_status", exitStatus))
	return exitStatus, nil
}

// RetrieveFile pulls a single file out of the sandbox filesystem. A
// path that was never written yields Present == false, not an error.
func (s *Sandbox) RetrieveFile(ctx context.Context, path string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return Artifact{Path: path}, fmt.Errorf("sandbox %s is destroyed", s.shortID)
	}
	return s.retriever.Fetch(ctx, s.id, path)
}

// Destroy tears the sandbox down: session closed, container stopped and
// force-removed, "already gone" swallowed. It never fails and is safe
// to call any number of times, including after a partial provisioning
// failure, so callers can defer it unconditionally.
func (s *Sandbox) Destroy(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true

	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.logger.Debug("closing session during destroy",
				zap.String("sandbox", s.shortID), zap.Error(err))
		}
		s.session = nil
	}

	s.logger.Info("cleaning up sandbox", zap.String("sandbox", s.shortID))

	info, err := s.engine.InspectContainer(ctx, s.id)
	switch {
	case engine.IsNotFound(err):
		s.status = StatusRemoved
		return
	case err != nil:
		s.logger.Warn("failed to inspect container during destroy",
			zap.String("sandbox", s.shortID), zap.Error(err))
	case info.Status == engine.StatusRunning || info.Status == engine.StatusCreated:
		if stopErr := s.engine.StopContainer(ctx, s.id); stopErr != nil && !engine.IsNotFound(stopErr) {
			s.logger.Warn("failed to stop container during destroy",
				zap.String("sandbox", s.shortID), zap.Error(stopErr))
		} else {
			s.status = StatusStopped
		}
	}

	if err := s.engine.RemoveContainer(ctx, s.id, true); err != nil && !engine.IsNotFound(err) {
		s.logger.Warn("failed to remove container during destroy",
			zap.String("sandbox", s.shortID), zap.Error(err))
		return
	}

	s.status = StatusRemoved
	s.logger.Info("sandbox removed", zap.String("sandbox", s.shortID))
}

// ensureRunning issues a start if the container is not already running.
// There is no settle delay here: readiness is established by the SSH
// handshake retry loop in ensureConnected.
func (s *Sandbox) ensureRunning(ctx context.Context) error {
	info, err := s.engine.InspectContainer(ctx, s.id)
	if err != nil {
		return fmt.Errorf("failed to inspect sandbox %s: %w", s.shortID, err)
	}
	if info.Status == engine.StatusRunning {
		s.status = StatusRunning
		return nil
	}

	if err := s.engine.StartContainer(ctx, s.id); err != nil {
		return fmt.Errorf("failed to start sandbox %s: %w", s.shortID, err)
	}
	s.status = StatusRunning
	return nil
}

// ensureConnected reuses a live session or establishes a new one. The
// in-container sshd needs a moment after start before it accepts
// connections, so the handshake is retried with doubling backoff until
// the ready deadline rather than sleeping a fixed grace period.
func (s *Sandbox) ensureConnected(ctx context.Context) error {
	if s.session != nil && s.session.IsAlive() {
		return nil
	}
	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}

	port, err := s.publishedPort(ctx)
	if err != nil {
		return err
	}

	signer, err := loadSigner(s.cfg.KeyPath)
	if err != nil {
		return err
	}

	params := sessionParams{
		Host:           s.cfg.SSHHost,
		Port:           port,
		User:           s.cfg.SSHUser,
		Signer:         signer,
		ConnectTimeout: s.cfg.ConnectTimeout,
		HostKeyPolicy:  s.cfg.HostKeyPolicy,
		KnownHostsPath: s.cfg.KnownHostsPath,
	}

	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	interval := s.cfg.ReadyPollInterval

	for {
		session, dialErr := s.dial(ctx, params)
		if dialErr == nil {
			s.session = session
			s.logger.Debug("session established",
				zap.String("sandbox", s.shortID), zap.Int("port", port))
			return nil
		}
		if !errors.Is(dialErr, ErrConnectFailed) {
			return dialErr
		}
		if time.Now().After(deadline) {
			return dialErr
		}

		s.logger.Debug("sandbox not ready, retrying",
			zap.String("sandbox", s.shortID),
			zap.Duration("backoff", interval),
			zap.Error(dialErr))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectFailed, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
	}
}

// publishedPort resolves the engine-assigned host port for the
// sandbox's SSH service port.
func (s *Sandbox) publishedPort(ctx context.Context) (int, error) {
	info, err := s.engine.InspectContainer(ctx, s.id)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect sandbox %s: %w", s.shortID, err)
	}

	for _, binding := range info.Ports[s.cfg.ServicePort] {
		if binding.HostPort == "" {
			continue
		}
		port, convErr := strconv.Atoi(binding.HostPort)
		if convErr != nil {
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w: container %s service port %s", ErrPortUnmapped, s.shortID, s.cfg.ServicePort)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
