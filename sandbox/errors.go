package sandbox

import "errors"

// Typed failures surfaced to the caller. Wrapped with %w so callers can
// classify them with errors.Is and decide whether to retry.
var (
	// ErrRuntimeUnavailable means the container engine is unreachable.
	// Fatal at manager construction: no sandbox can ever be created.
	ErrRuntimeUnavailable = errors.New("container engine unavailable")

	// ErrProvisionFailed means container creation or start was rejected
	// by the engine, for example when the sandbox image is missing.
	ErrProvisionFailed = errors.New("sandbox provisioning failed")

	// ErrPortUnmapped means the engine has not published a host port
	// for the sandbox's SSH service port.
	ErrPortUnmapped = errors.New("no published host port for sandbox")

	// ErrCredentialMissing means the SSH private key could not be
	// loaded from its configured path.
	ErrCredentialMissing = errors.New("ssh private key unavailable")

	// ErrConnectFailed means the SSH connection could not be
	// established: dial timeout, refusal, or authentication failure.
	ErrConnectFailed = errors.New("ssh connection failed")

	// ErrCommandTimeout means the remote command did not exit within
	// its timeout.
	ErrCommandTimeout = errors.New("remote command timed out")
)
