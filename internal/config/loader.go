package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"visionsdk/pkg/vision"
)

// Config holds the settings for connecting to or launching a vision server.
// Zero values mean "unspecified" and fall back to the SDK defaults.
type Config struct {
	ProjectPath    string `json:"project_path" yaml:"project_path" toml:"project_path"`
	DistPath       string `json:"dist_path" yaml:"dist_path" toml:"dist_path"`
	Host           string `json:"host" yaml:"host" toml:"host"`
	Port           int    `json:"port" yaml:"port" toml:"port"`
	AlreadyRunning bool   `json:"already_running" yaml:"already_running" toml:"already_running"`
	Password       string `json:"password" yaml:"password" toml:"password"`
	APIKey         string `json:"api_key" yaml:"api_key" toml:"api_key"`
	DisableCode    bool   `json:"disable_code" yaml:"disable_code" toml:"disable_code"`
	TutorialOnly   bool   `json:"tutorial_only" yaml:"tutorial_only" toml:"tutorial_only"`
	ContextInBody  bool   `json:"context_in_body" yaml:"context_in_body" toml:"context_in_body"`
	WaitForModels  bool   `json:"wait_for_init_model" yaml:"wait_for_init_model" toml:"wait_for_init_model"`
	GPU            int    `json:"gpu" yaml:"gpu" toml:"gpu"`
	// MaxPortRetries of -1 disables respawning; 0 or unset keeps the default.
	MaxPortRetries int    `json:"max_port_retries" yaml:"max_port_retries" toml:"max_port_retries"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Options maps the configuration onto SDK options.
func (c Config) Options() vision.Options {
	return vision.Options{
		ProjectPath:    c.ProjectPath,
		DistPath:       c.DistPath,
		Host:           c.Host,
		Port:           c.Port,
		AlreadyRunning: c.AlreadyRunning,
		Password:       c.Password,
		APIKey:         c.APIKey,
		DisableCode:    c.DisableCode,
		TutorialOnly:   c.TutorialOnly,
		ContextInBody:  c.ContextInBody,
		WaitForModels:  c.WaitForModels,
		GPU:            c.GPU,
		MaxPortRetries: c.MaxPortRetries,
	}
}
