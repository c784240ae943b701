package engine

import (
	"context"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
)

// Container status strings as reported by the engine.
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusExited  = "exited"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string

	// ServicePort is the in-container port to publish. The engine picks
	// an unused host port; the assigned binding shows up in inspect data.
	ServicePort nat.Port
}

// ContainerInfo is the subset of inspect data the sandbox layer consumes.
type ContainerInfo struct {
	ID     string
	Status string
	Ports  nat.PortMap
}

// Client is the container engine facade. Implementations must be safe
// for concurrent use by multiple sandboxes.
type Client interface {
	// Ping checks engine liveness.
	Ping(ctx context.Context) error

	// CreateContainer creates a container and returns its engine-assigned ID.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, id string) error

	// StopContainer stops a running container.
	StopContainer(ctx context.Context, id string) error

	// RemoveContainer removes a container, optionally killing it first.
	RemoveContainer(ctx context.Context, id string, force bool) error

	// InspectContainer returns current status and port bindings.
	InspectContainer(ctx context.Context, id string) (ContainerInfo, error)

	// CopyFromContainer streams a path out of the container filesystem
	// as a tar archive. The caller owns the returned reader.
	CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error)

	// Close releases the underlying connection.
	Close() error
}

// IsNotFound reports whether err indicates the engine does not know the
// referenced container or path. Used to treat "already gone" as success
// during cleanup and "no such file" as an absent artifact.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}
