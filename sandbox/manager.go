package sandbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kilpatrickap/dawnyawn-v3/engine"
)

// Manager verifies engine reachability and creates sandboxes. Sandboxes
// created from one manager are fully independent and safe to operate
// concurrently; each owns its own container and session.
type Manager struct {
	engine engine.Client
	logger *zap.Logger
	cfg    *Config
	dial   sessionDialer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionDialer overrides how sandbox SSH sessions are opened.
// Tests use it to run without a network.
func WithSessionDialer(dial sessionDialer) ManagerOption {
	return func(m *Manager) {
		m.dial = dial
	}
}

// NewManager pings the engine and returns a sandbox factory bound to
// it. An unreachable engine is fatal for the whole run, since no
// sandbox can ever be created.
func NewManager(logger *zap.Logger, cfg *Config, eng engine.Client, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Manager{
		engine: eng,
		logger: logger,
		cfg:    cfg,
		dial:   dialSession,
	}
	for _, opt := range opts {
		opt(m)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := eng.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	logger.Info("container engine reachable", zap.String("image", cfg.Image))
	return m, nil
}

// Create provisions a new sandbox container and starts it. The caller
// owns the returned sandbox and must call Destroy when done with it. A
// container that fails to start is removed before the error returns, so
// a failed creation never leaks onto the host.
func (m *Manager) Create(ctx context.Context) (*Sandbox, error) {
	name := "dawnyawn-sbx-" + uuid.NewString()[:8]

	id, err := m.engine.CreateContainer(ctx, engine.ContainerSpec{
		Name:        name,
		Image:       m.cfg.Image,
		Command:     m.cfg.Command,
		ServicePort: m.cfg.ServicePort,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}

	sb := &Sandbox{
		id:        id,
		shortID:   shortID(id),
		engine:    m.engine,
		logger:    m.logger,
		cfg:       m.cfg,
		retriever: NewArtifactRetriever(m.logger, m.engine),
		dial:      m.dial,
		status:    StatusCreated,
	}

	if err := m.engine.StartContainer(ctx, id); err != nil {
		sb.Destroy(ctx)
		return nil, fmt.Errorf("%w: %v", ErrProvisionFailed, err)
	}
	sb.status = StatusRunning

	m.logger.Info("sandbox created",
		zap.String("sandbox", sb.shortID),
		zap.String("name", name),
		zap.String("image", m.cfg.Image))
	return sb, nil
}
