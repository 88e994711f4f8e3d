// Package config loads the YAML process configuration each binary in
// cmd/ reads at startup: tagged structs decoded with yaml.Unmarshal,
// merged over Default()'s values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/graftio/ingestify/pkg/log"
	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration for an ingestify node.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	RPC     RPCConfig     `yaml:"rpc"`
}

// NodeConfig configures this process's Raft identity and cluster role.
type NodeConfig struct {
	ID        string `yaml:"id"`
	BindAddr  string `yaml:"bind_addr"`
	DataDir   string `yaml:"data_dir"`
	Bootstrap bool   `yaml:"bootstrap"`
	JoinAddr  string `yaml:"join_addr,omitempty"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig configures the blob store and in-memory index managers.
type StorageConfig struct {
	BlobRoot string `yaml:"blob_root"`
}

// RPCConfig configures the Coordinator RPC Facade listener.
type RPCConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	HealthAddr      string        `yaml:"health_addr,omitempty"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout,omitempty"`
}

// Default returns a single-node, bootstrap-mode configuration suitable for
// local development.
func Default() Config {
	return Config{
		Node: NodeConfig{
			ID:        "node-1",
			BindAddr:  "127.0.0.1:7000",
			DataDir:   "./data",
			Bootstrap: true,
		},
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			BlobRoot: "./data/blobs",
		},
		RPC: RPCConfig{
			ListenAddr:      "127.0.0.1:8080",
			HealthAddr:      "127.0.0.1:8081",
			ExecutorTimeout: 30 * time.Second,
		},
	}
}

// Load reads and parses the YAML configuration file at path over
// Default(), so any field the file does not set keeps Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Node.ID == "" {
		return Config{}, fmt.Errorf("node.id is required")
	}
	return cfg, nil
}

// LogLevel translates this config's Log.Level string into a pkg/log.Level.
func (c Config) LogLevel() log.Level {
	switch c.Log.Level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
