// Package engine provides the container engine client facade.
//
// The engine package wraps the Docker Engine API behind a small Client
// interface covering exactly the operations the sandbox layer needs:
// liveness checks, container lifecycle (create, start, stop, remove),
// inspection, and archive extraction from a container filesystem.
//
// Keeping the engine behind an interface lets the sandbox layer be
// exercised in tests without a running daemon, and keeps Podman usable
// through its Docker-compatible API by pointing engine.host at the
// Podman socket.
//
// Usage:
//
//	cli, err := engine.NewDockerClient(logger, engine.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//	err = cli.Ping(ctx)
package engine
