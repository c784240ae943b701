// Package sandbox provides ephemeral, isolated command execution environments.
//
// The sandbox package implements the sandbox lifecycle driver: each
// Sandbox owns one container on the engine plus a lazily-established SSH
// session into it. Commands run over the session and block until the
// remote exit status is known; files the commands produce are pulled out
// of the container filesystem afterwards via the engine's archive API.
//
// The Manager verifies engine reachability and is the factory for
// Sandbox instances. Sandboxes are exclusively owned by the caller that
// created them and must be destroyed when done; Destroy is idempotent
// and never fails, so it is safe to defer unconditionally.
//
// Usage:
//
//	manager, err := sandbox.NewManager(logger, cfg, engineClient)
//	sb, err := manager.Create(ctx)
//	defer sb.Destroy(ctx)
//	status, err := sb.Execute(ctx, "nmap -sV target > /tmp/result.txt", 0)
//	artifact, err := sb.RetrieveFile(ctx, "/tmp/result.txt")
package sandbox
