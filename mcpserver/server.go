package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kilpatrickap/dawnyawn-v3/config"
	"github.com/kilpatrickap/dawnyawn-v3/sandbox"
)

// Sandbox is the per-environment surface the server drives. Satisfied
// by *sandbox.Sandbox.
type Sandbox interface {
	ShortID() string
	Execute(ctx context.Context, command string, timeout time.Duration) (int, error)
	RetrieveFile(ctx context.Context, path string) (sandbox.Artifact, error)
	Destroy(ctx context.Context)
}

// SandboxCreator provisions new sandboxes. Satisfied by *sandbox.Manager
// through CreateFunc.
type SandboxCreator interface {
	Create(ctx context.Context) (Sandbox, error)
}

// CreateFunc adapts a function to the SandboxCreator interface.
type CreateFunc func(ctx context.Context) (Sandbox, error)

// Create calls f.
func (f CreateFunc) Create(ctx context.Context) (Sandbox, error) {
	return f(ctx)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	creator   SandboxCreator
	mcpServer *server.MCPServer

	mu        sync.Mutex
	sandboxes map[string]Sandbox
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, creator SandboxCreator) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		creator:   creator,
		sandboxes: make(map[string]Sandbox),
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.Int("sandbox.ssh_port", cfg.Sandbox.SSHPort),
		zap.Int("sandbox.command_timeout_sec", cfg.Sandbox.CommandTimeoutSec),
		zap.String("ssh.user", cfg.SSH.User),
		zap.String("ssh.host_key_policy", cfg.SSH.HostKeyPolicy),
	)

	s.mcpServer = server.NewMCPServer("dawnyawn-sandbox", "A sandboxed command execution server")

	s.registerCreateSandboxTool()
	s.registerExecuteCommandTool()
	s.registerRetrieveFileTool()
	s.registerDestroySandboxTool()

	return s, nil
}

func (s *MCPServer) registerCreateSandboxTool() {
	tool := mcp.Tool{
		Name:        "create_sandbox",
		Description: "Provision a fresh isolated sandbox and return its ID",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleCreateSandbox)
}

func (s *MCPServer) registerExecuteCommandTool() {
	tool := mcp.Tool{
		Name:        "execute_command",
		Description: "Execute a shell command inside a sandbox and wait for its exit status. Output is not captured; redirect it to a file and fetch it with retrieve_file.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Sandbox ID returned by create_sandbox",
				},
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute; must be self-terminating",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Command timeout in seconds (optional)",
				},
			},
			Required: []string{"sandbox_id", "command"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCommand)
}

func (s *MCPServer) registerRetrieveFileTool() {
	tool := mcp.Tool{
		Name:        "retrieve_file",
		Description: "Retrieve the content of a file produced inside a sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Sandbox ID returned by create_sandbox",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path of the file inside the sandbox",
				},
			},
			Required: []string{"sandbox_id", "path"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRetrieveFile)
}

func (s *MCPServer) registerDestroySandboxTool() {
	tool := mcp.Tool{
		Name:        "destroy_sandbox",
		Description: "Tear down a sandbox and release its container",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"sandbox_id": map[string]any{
					"type":        "string",
					"description": "Sandbox ID returned by create_sandbox",
				},
			},
			Required: []string{"sandbox_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleDestroySandbox)
}

func (s *MCPServer) handleCreateSandbox(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.Info("sandbox creation requested")

	sb, err := s.creator.Create(ctx)
	if err != nil {
		s.logger.Error("sandbox creation failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Sandbox creation failed: %v", err)), nil
	}

	s.mu.Lock()
	s.sandboxes[sb.ShortID()] = sb
	s.mu.Unlock()

	s.logger.Info("sandbox registered", zap.String("sandbox", sb.ShortID()))
	return textResult(fmt.Sprintf(`{"sandbox_id":%q}`, sb.ShortID())), nil
}

func (s *MCPServer) handleExecuteCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}

	command, err := request.RequireString("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}

	sb, ok := s.lookup(sandboxID)
	if !ok {
		return errorResult(fmt.Sprintf("Unknown sandbox: %s", sandboxID)), nil
	}

	timeout := time.Duration(request.GetInt("timeout_sec", 0)) * time.Second

	exitStatus, err := sb.Execute(ctx, command, timeout)
	if err != nil {
		s.logger.Error("command execution failed",
			zap.Error(err),
			zap.String("sandbox", sandboxID),
			zap.String("command", command))
		return errorResult(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	return textResult(fmt.Sprintf(`{"exit_status":%d}`, exitStatus)), nil
}

func (s *MCPServer) handleRetrieveFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}

	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}

	sb, ok := s.lookup(sandboxID)
	if !ok {
		return errorResult(fmt.Sprintf("Unknown sandbox: %s", sandboxID)), nil
	}

	artifact, err := sb.RetrieveFile(ctx, path)
	if err != nil {
		s.logger.Error("file retrieval failed",
			zap.Error(err),
			zap.String("sandbox", sandboxID),
			zap.String("path", path))
		return errorResult(fmt.Sprintf("Retrieval failed: %v", err)), nil
	}

	if !artifact.Present {
		// Absent output is a normal result the planning layer reasons
		// about, mirrored as plain text rather than a tool error.
		return textResult(fmt.Sprintf("Command produced no output file at '%s'.", path)), nil
	}

	return textResult(artifact.Content), nil
}

func (s *MCPServer) handleDestroySandbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sandboxID, err := request.RequireString("sandbox_id")
	if err != nil {
		return nil, fmt.Errorf("sandbox_id parameter is required: %w", err)
	}

	s.mu.Lock()
	sb, ok := s.sandboxes[sandboxID]
	delete(s.sandboxes, sandboxID)
	s.mu.Unlock()

	if ok {
		sb.Destroy(ctx)
	}

	// Destroying an unknown or already-destroyed sandbox is a no-op.
	return textResult(fmt.Sprintf(`{"destroyed":%q}`, sandboxID)), nil
}

func (s *MCPServer) lookup(sandboxID string) (Sandbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.sandboxes[sandboxID]
	return sb, ok
}

// Shutdown destroys every sandbox still registered. Called from the
// application lifecycle so containers never outlive the server.
func (s *MCPServer) Shutdown(ctx context.Context) {
	s.mu.Lock()
	remaining := make([]Sandbox, 0, len(s.sandboxes))
	for _, sb := range s.sandboxes {
		remaining = append(remaining, sb)
	}
	s.sandboxes = make(map[string]Sandbox)
	s.mu.Unlock()

	for _, sb := range remaining {
		s.logger.Info("destroying sandbox on shutdown", zap.String("sandbox", sb.ShortID()))
		sb.Destroy(ctx)
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
		IsError: true,
	}
}
