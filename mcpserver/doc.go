// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the sandbox driver to the planning
// layer over MCP using the mark3labs/mcp-go library. It offers four
// tools covering the sandbox lifecycle: create_sandbox,
// execute_command, retrieve_file, and destroy_sandbox. The server keeps
// a registry of live sandboxes keyed by their short container ID and
// destroys every remaining sandbox on shutdown so no container is
// leaked on the host.
package mcpserver
