package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration loaded from tiller.yaml. Fields
// left unset in the file pick up the values from Default.
type Config struct {
	Version int `yaml:"version"`
	Robot   struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"robot"`
	Broker struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"broker"`
	Engine struct {
		TickMs   int `yaml:"tick_ms"`
		ReplanMs int `yaml:"replan_ms"`
	} `yaml:"engine"`
	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`
	KB struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
		Table   string `yaml:"table"`
	} `yaml:"kb"`
	Localization struct {
		TimeoutMs int     `yaml:"timeout_ms"`
		VarX      float64 `yaml:"var_x"`
		VarY      float64 `yaml:"var_y"`
		VarYaw    float64 `yaml:"var_yaw"`
	} `yaml:"localization"`
	Services map[string]ServiceDef `yaml:"services"`
}

// ServiceDef declares one navigation service the engine expects to
// announce itself on the broker.
type ServiceDef struct {
	Kind     string   `yaml:"kind"`
	Required bool     `yaml:"required"`
	Actions  []string `yaml:"actions"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	var c Config
	c.Version = 1
	c.Robot.ID = "tiller-01"
	c.Robot.Name = "tiller"
	c.Broker.URL = "tcp://127.0.0.1:1883"
	c.Broker.ClientID = "tiller-engine"
	c.Broker.Prefix = "tiller"
	c.Engine.TickMs = 50
	c.Engine.ReplanMs = 1000
	c.API.Port = 8080
	c.KB.Backend = "memory"
	c.KB.Table = "kb_entries"
	c.Localization.TimeoutMs = 5000
	c.Localization.VarX = 0.25
	c.Localization.VarY = 0.25
	c.Localization.VarYaw = 0.06853891945200942
	c.Services = map[string]ServiceDef{
		"planner": {
			Kind:     "planner",
			Required: true,
			Actions:  []string{"compute_path_to_pose", "compute_path_through_poses"},
		},
		"controller": {
			Kind:     "controller",
			Required: true,
			Actions:  []string{"follow_path"},
		},
		"localizer": {
			Kind: "localizer",
		},
	}
	return c
}

// Load reads the config file at path, validates its version and fills
// unset fields from Default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported tiller.yaml version: %d", cfg.Version)
	}

	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}
	return &cfg, nil
}

// TickInterval returns the engine tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickMs) * time.Millisecond
}

// ReplanInterval returns the path replanning period.
func (c *Config) ReplanInterval() time.Duration {
	return time.Duration(c.Engine.ReplanMs) * time.Millisecond
}

// LocalizationTimeout returns how long to wait for the filter to
// converge on the initial pose.
func (c *Config) LocalizationTimeout() time.Duration {
	return time.Duration(c.Localization.TimeoutMs) * time.Millisecond
}
