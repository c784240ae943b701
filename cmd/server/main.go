package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/kilpatrickap/dawnyawn-v3/config"
	"github.com/kilpatrickap/dawnyawn-v3/engine"
	"github.com/kilpatrickap/dawnyawn-v3/logger"
	"github.com/kilpatrickap/dawnyawn-v3/mcpserver"
	"github.com/kilpatrickap/dawnyawn-v3/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container engine client, also exposed as the engine.Client
			// interface the sandbox layer consumes
			newEngineClient,
			asEngineClient,

			// Sandbox manager with settings derived from config
			sandbox.NewConfig,
			sandbox.NewManager,

			// Bridge the manager into the server's creator interface
			newSandboxCreator,

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config and tear
		// down sandboxes and the engine connection on stop.
		fx.Invoke(registerLifecycle),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newEngineClient(cfg *config.Config, log *zap.Logger) (*engine.DockerClient, error) {
	return engine.NewDockerClient(log, engine.Options{
		Host:        cfg.Engine.Host,
		StopTimeout: time.Duration(cfg.Engine.StopTimeoutSec) * time.Second,
	})
}

func asEngineClient(c *engine.DockerClient) engine.Client {
	return c
}

func newSandboxCreator(manager *sandbox.Manager) mcpserver.SandboxCreator {
	return mcpserver.CreateFunc(func(ctx context.Context) (mcpserver.Sandbox, error) {
		return manager.Create(ctx)
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	engineClient *engine.DockerClient,
	server *mcpserver.MCPServer,
) error {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			switch cfg.Server.Transport {
			case "stdio":
				go func() {
					if err := server.ServeStdio(); err != nil {
						log.Error("stdio transport failed", zap.Error(err))
					}
				}()
			case "http":
				go func() {
					if err := server.ServeHTTP(); err != nil {
						log.Error("http transport failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown(ctx)
			return engineClient.Close()
		},
	})
	return nil
}
