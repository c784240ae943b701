package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/kilpatrickap/dawnyawn-v3/engine"
)

// fakeEngine implements engine.Client in memory.
type fakeEngine struct {
	mu sync.Mutex

	pingErr   error
	createErr error
	startErr  error
	stopErr   error

	// unmapPorts makes inspect report no published bindings.
	unmapPorts bool

	containers map[string]*fakeContainer
	files      map[string]map[string][]byte
	emptyTars  map[string]map[string]bool

	created     int
	stopCalls   int
	removeCalls int
}

type fakeContainer struct {
	id     string
	name   string
	status string
	port   int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: make(map[string]*fakeContainer),
		files:      make(map[string]map[string][]byte),
		emptyTars:  make(map[string]map[string]bool),
	}
}

func notFoundErr(what string) error {
	return fmt.Errorf("no such %s: %w", what, cerrdefs.ErrNotFound)
}

func (e *fakeEngine) Ping(_ context.Context) error {
	return e.pingErr
}

func (e *fakeEngine) CreateContainer(_ context.Context, spec engine.ContainerSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.createErr != nil {
		return "", e.createErr
	}

	e.created++
	id := fmt.Sprintf("%012d%052d", e.created, 0)
	e.containers[id] = &fakeContainer{
		id:     id,
		name:   spec.Name,
		status: engine.StatusCreated,
		port:   49000 + e.created,
	}
	return id, nil
}

func (e *fakeEngine) StartContainer(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.startErr != nil {
		return e.startErr
	}
	c, ok := e.containers[id]
	if !ok {
		return notFoundErr("container")
	}
	c.status = engine.StatusRunning
	return nil
}

func (e *fakeEngine) StopContainer(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopCalls++
	if e.stopErr != nil {
		return e.stopErr
	}
	c, ok := e.containers[id]
	if !ok {
		return notFoundErr("container")
	}
	c.status = engine.StatusExited
	return nil
}

func (e *fakeEngine) RemoveContainer(_ context.Context, id string, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeCalls++
	if _, ok := e.containers[id]; !ok {
		return notFoundErr("container")
	}
	delete(e.containers, id)
	return nil
}

func (e *fakeEngine) InspectContainer(_ context.Context, id string) (engine.ContainerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.containers[id]
	if !ok {
		return engine.ContainerInfo{}, notFoundErr("container")
	}

	info := engine.ContainerInfo{ID: c.id, Status: c.status}
	if !e.unmapPorts {
		info.Ports = nat.PortMap{
			"22/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(c.port)},
			},
		}
	}
	return info, nil
}

func (e *fakeEngine) CopyFromContainer(_ context.Context, id, path string) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.containers[id]; !ok {
		return nil, notFoundErr("container")
	}
	if e.emptyTars[id][path] {
		return io.NopCloser(bytes.NewReader(emptyTar())), nil
	}
	content, ok := e.files[id][path]
	if !ok {
		return nil, notFoundErr("path")
	}
	return io.NopCloser(bytes.NewReader(tarWithFile(filepath.Base(path), content))), nil
}

func (e *fakeEngine) Close() error {
	return nil
}

func (e *fakeEngine) putFile(id, path string, content []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.files[id] == nil {
		e.files[id] = make(map[string][]byte)
	}
	e.files[id][path] = content
}

func (e *fakeEngine) putEmptyArchive(id, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.emptyTars[id] == nil {
		e.emptyTars[id] = make(map[string]bool)
	}
	e.emptyTars[id][path] = true
}

func (e *fakeEngine) containerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.containers)
}

func tarWithFile(name string, content []byte) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(content)),
	})
	_, _ = tw.Write(content)
	_ = tw.Close()
	return buf.Bytes()
}

func emptyTar() []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.Close()
	return buf.Bytes()
}

func containerSpecForTest() engine.ContainerSpec {
	return engine.ContainerSpec{
		Name:        "dawnyawn-sbx-test",
		Image:       "dawnyawn-kali-agent",
		Command:     []string{"/usr/sbin/sshd", "-D"},
		ServicePort: "22/tcp",
	}
}

// fakeSession implements remoteSession without a network.
type fakeSession struct {
	mu         sync.Mutex
	alive      bool
	exitStatus int
	runErr     error
	runDelay   time.Duration
	commands   []string
	finished   bool
	closeCalls int
}

func (f *fakeSession) Run(_ context.Context, command string, _ time.Duration) (int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.runDelay > 0 {
		time.Sleep(f.runDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return 0, f.runErr
	}
	f.finished = true
	return f.exitStatus, nil
}

func (f *fakeSession) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.alive = false
	return nil
}

// fakeDialer returns sess after failing the first `failures` attempts
// with a connection error, recording every attempt.
type fakeDialer struct {
	mu       sync.Mutex
	sess     *fakeSession
	failures int
	attempts int
	ports    []int
}

func (d *fakeDialer) dial(_ context.Context, params sessionParams) (remoteSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	d.ports = append(d.ports, params.Port)
	if d.attempts <= d.failures {
		return nil, fmt.Errorf("%w: dial tcp 127.0.0.1:%d: connection refused", ErrConnectFailed, params.Port)
	}

	d.sess.mu.Lock()
	d.sess.alive = true
	d.sess.mu.Unlock()
	return d.sess, nil
}

func (d *fakeDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// writeTestKey generates an ed25519 key and writes it in OpenSSH PEM
// format, returning its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_test")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.KeyPath = writeTestKey(t)
	cfg.PingTimeout = time.Second
	cfg.ConnectTimeout = time.Second
	cfg.CommandTimeout = 5 * time.Second
	cfg.ReadyTimeout = 500 * time.Millisecond
	cfg.ReadyPollInterval = 5 * time.Millisecond
	return cfg
}
