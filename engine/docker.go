package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// Options configures the Docker engine client.
type Options struct {
	// Host is the engine socket address. Empty means the standard
	// environment (DOCKER_HOST or the default unix socket). Pointing it
	// at a Podman socket works unchanged.
	Host string

	// StopTimeout bounds how long a container gets to shut down before
	// the engine kills it.
	StopTimeout time.Duration
}

// DockerClient implements Client against the Docker Engine API.
type DockerClient struct {
	cli         *client.Client
	logger      *zap.Logger
	stopTimeout time.Duration
}

// NewDockerClient creates an engine client from the environment, with an
// optional explicit host override.
func NewDockerClient(logger *zap.Logger, opts Options) (*DockerClient, error) {
	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}

	return &DockerClient{
		cli:         cli,
		logger:      logger,
		stopTimeout: stopTimeout,
	}, nil
}

// Ping checks that the engine daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("engine ping failed: %w", err)
	}
	return nil
}

// CreateContainer creates a detached container with the service port
// published to an engine-assigned host port.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Command,
		ExposedPorts: nat.PortSet{
			spec.ServicePort: struct{}{},
		},
	}

	// An empty HostPort asks the engine to pick a free ephemeral port.
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			spec.ServicePort: []nat.PortBinding{{HostIP: "", HostPort: ""}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container from image %q: %w", spec.Image, err)
	}

	for _, warning := range resp.Warnings {
		d.logger.Warn("engine reported warning on container create",
			zap.String("container_id", resp.ID),
			zap.String("warning", warning))
	}

	return resp.ID, nil
}

// StartContainer starts the container.
func (d *DockerClient) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// StopContainer stops the container, giving it the configured grace
// period before the engine kills it.
func (d *DockerClient) StopContainer(ctx context.Context, id string) error {
	timeoutSec := int(d.stopTimeout.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSec}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer removes the container.
func (d *DockerClient) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// InspectContainer returns the container status and port map.
func (d *DockerClient) InspectContainer(ctx context.Context, id string) (ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	info := ContainerInfo{ID: resp.ID}
	if resp.State != nil {
		info.Status = resp.State.Status
	}
	if resp.NetworkSettings != nil {
		info.Ports = resp.NetworkSettings.Ports
	}
	return info, nil
}

// CopyFromContainer streams path out of the container as a tar archive.
func (d *DockerClient) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		// Not wrapped with extra context: callers distinguish "no such
		// file" from real failures via IsNotFound.
		return nil, err
	}
	return reader, nil
}

// Close releases the client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}
