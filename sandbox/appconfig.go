package sandbox

import (
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/kilpatrickap/dawnyawn-v3/config"
)

// NewConfig derives sandbox settings from the application configuration.
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Image:             cfg.Sandbox.Image,
		Command:           cfg.Sandbox.Command,
		ServicePort:       nat.Port(fmt.Sprintf("%d/tcp", cfg.Sandbox.SSHPort)),
		SSHHost:           cfg.SSH.Host,
		SSHUser:           cfg.SSH.User,
		KeyPath:           cfg.SSH.KeyPath,
		HostKeyPolicy:     HostKeyPolicy(cfg.SSH.HostKeyPolicy),
		KnownHostsPath:    cfg.SSH.KnownHostsPath,
		PingTimeout:       cfg.GetPingTimeout(),
		ConnectTimeout:    time.Duration(cfg.SSH.ConnectTimeoutSec) * time.Second,
		CommandTimeout:    cfg.GetCommandTimeout(),
		ReadyTimeout:      time.Duration(cfg.Sandbox.ReadyTimeoutSec) * time.Second,
		ReadyPollInterval: time.Duration(cfg.Sandbox.ReadyPollIntervalMS) * time.Millisecond,
	}
}
