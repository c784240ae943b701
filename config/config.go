package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// EngineConfig holds container engine configuration
type EngineConfig struct {
	// Host overrides the engine socket; empty uses the environment
	// (DOCKER_HOST or the default unix socket).
	Host           string `mapstructure:"host"`
	PingTimeoutSec int    `mapstructure:"ping_timeout_sec"`
	StopTimeoutSec int    `mapstructure:"stop_timeout_sec"`
}

// SandboxConfig holds sandbox provisioning configuration
type SandboxConfig struct {
	Image               string   `mapstructure:"image"`
	Command             []string `mapstructure:"command"`
	SSHPort             int      `mapstructure:"ssh_port"`
	ReadyTimeoutSec     int      `mapstructure:"ready_timeout_sec"`
	ReadyPollIntervalMS int      `mapstructure:"ready_poll_interval_ms"`
	CommandTimeoutSec   int      `mapstructure:"command_timeout_sec"`
}

// SSHConfig holds remote session configuration
type SSHConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	KeyPath           string `mapstructure:"key_path"`
	ConnectTimeoutSec int    `mapstructure:"connect_timeout_sec"`
	HostKeyPolicy     string `mapstructure:"host_key_policy"`
	KnownHostsPath    string `mapstructure:"known_hosts_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)

	viper.SetDefault("engine.host", "")
	viper.SetDefault("engine.ping_timeout_sec", 5)
	viper.SetDefault("engine.stop_timeout_sec", 10)

	viper.SetDefault("sandbox.image", "dawnyawn-kali-agent")
	viper.SetDefault("sandbox.command", []string{"/usr/sbin/sshd", "-D"})
	viper.SetDefault("sandbox.ssh_port", 22)
	viper.SetDefault("sandbox.ready_timeout_sec", 60)
	viper.SetDefault("sandbox.ready_poll_interval_ms", 500)
	viper.SetDefault("sandbox.command_timeout_sec", 1800)

	viper.SetDefault("ssh.host", "localhost")
	viper.SetDefault("ssh.user", "root")
	viper.SetDefault("ssh.key_path", "~/.ssh/id_ecdsa")
	viper.SetDefault("ssh.connect_timeout_sec", 30)
	viper.SetDefault("ssh.host_key_policy", "insecure")
	viper.SetDefault("ssh.known_hosts_path", "~/.ssh/known_hosts")

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if len(c.Sandbox.Command) == 0 {
		return fmt.Errorf("sandbox.command must not be empty")
	}

	if c.Sandbox.SSHPort <= 0 || c.Sandbox.SSHPort > 65535 {
		return fmt.Errorf("sandbox.ssh_port must be a valid port, got: %d", c.Sandbox.SSHPort)
	}

	if c.Sandbox.ReadyTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.ready_timeout_sec must be positive, got: %d", c.Sandbox.ReadyTimeoutSec)
	}

	if c.Sandbox.ReadyPollIntervalMS <= 0 {
		return fmt.Errorf("sandbox.ready_poll_interval_ms must be positive, got: %d", c.Sandbox.ReadyPollIntervalMS)
	}

	if c.Sandbox.CommandTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.command_timeout_sec must be positive, got: %d", c.Sandbox.CommandTimeoutSec)
	}

	if c.Engine.PingTimeoutSec <= 0 {
		return fmt.Errorf("engine.ping_timeout_sec must be positive, got: %d", c.Engine.PingTimeoutSec)
	}

	if c.SSH.User == "" {
		return fmt.Errorf("ssh.user must not be empty")
	}

	if c.SSH.KeyPath == "" {
		return fmt.Errorf("ssh.key_path must not be empty")
	}

	if c.SSH.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("ssh.connect_timeout_sec must be positive, got: %d", c.SSH.ConnectTimeoutSec)
	}

	switch c.SSH.HostKeyPolicy {
	case "insecure":
	case "known-hosts":
		if c.SSH.KnownHostsPath == "" {
			return fmt.Errorf("ssh.known_hosts_path is required when ssh.host_key_policy is 'known-hosts'")
		}
	default:
		return fmt.Errorf("invalid ssh.host_key_policy: %s, must be 'insecure' or 'known-hosts'", c.SSH.HostKeyPolicy)
	}

	return nil
}

// GetPingTimeout returns the engine ping timeout as a duration
func (c *Config) GetPingTimeout() time.Duration {
	return time.Duration(c.Engine.PingTimeoutSec) * time.Second
}

// GetCommandTimeout returns the default command execution timeout as a duration
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Sandbox.CommandTimeoutSec) * time.Second
}
