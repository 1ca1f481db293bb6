package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL       string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// Key material for the node command envelope.
	ControllerPrivateKeyPath string
	ControllerPublicKeyPath  string
	NodePublicKeyPath        string

	// NodeAgentPort is the port every node agent listens on.
	NodeAgentPort int

	// Per-remote-call timeout for lifecycle commands.
	NodeCommandTimeout time.Duration
	// Timeout for a single reachability probe request.
	NodeProbeTimeout time.Duration
	// Backoff before the probe's single retry.
	NodeProbeBackoff time.Duration

	// Overall deadline and poll interval for reconciliation workers.
	HeartbeatTimeout  time.Duration
	HeartbeatInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		HTTPListenAddr:           getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsListenAddr:        getEnv("METRICS_LISTEN_ADDR", ""),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		ServiceName:              getEnv("SERVICE_NAME", "fleet-api"),
		ControllerPrivateKeyPath: getEnv("CONTROLLER_PRIVATE_KEY_PATH", "keys/controller.pem"),
		ControllerPublicKeyPath:  getEnv("CONTROLLER_PUBLIC_KEY_PATH", "keys/controller.pub.pem"),
		NodePublicKeyPath:        getEnv("NODE_PUBLIC_KEY_PATH", "keys/node.pub.pem"),
	}

	var err error
	if cfg.NodeAgentPort, err = getEnvInt("NODE_AGENT_PORT", 7820); err != nil {
		return nil, err
	}
	if cfg.NodeCommandTimeout, err = getEnvDuration("NODE_COMMAND_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.NodeProbeTimeout, err = getEnvDuration("NODE_PROBE_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.NodeProbeBackoff, err = getEnvDuration("NODE_PROBE_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getEnvDuration("HEARTBEAT_TIMEOUT", 180*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvDuration("HEARTBEAT_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that everything the API server needs is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ControllerPrivateKeyPath == "" || c.NodePublicKeyPath == "" {
		return fmt.Errorf("controller private key and node public key paths are required")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout and interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
