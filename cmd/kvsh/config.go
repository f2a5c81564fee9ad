package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errUnknownMode        = errors.New("unknown mode (want rename or backup)")
	errUnknownLogLevel    = errors.New("unknown log level")
)

const (
	modeRename = "rename"
	modeBackup = "backup"
)

// Config holds all configuration options.
type Config struct {
	Mode     string `json:"mode,omitempty"`
	Strict   *bool  `json:"strict,omitempty"`
	LogLevel string `json:"log_level,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string
	Project string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	strict := false

	return Config{
		Mode:     modeRename,
		Strict:   &strict,
		LogLevel: "info",
	}
}

// ConfigFileName is the project config file name.
const ConfigFileName = ".kvsh.json"

// globalConfigPath returns $XDG_CONFIG_HOME/kvsh/config.json, falling back to
// ~/.config/kvsh/config.json. Empty if neither can be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "kvsh", "config.json")
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "kvsh", "config.json")
	}

	return ""
}

// LoadConfig merges, lowest precedence first: defaults, the global config,
// the project config (or configPath if set, which must exist), then cli.
func LoadConfig(workDir, configPath string, cli Config, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	if path := globalConfigPath(env); path != "" {
		globalCfg, loaded, err := loadConfigFile(path, false)
		if err != nil {
			return Config{}, ConfigSources{}, err
		}

		if loaded {
			sources.Global = path
			cfg = mergeConfig(cfg, globalCfg)
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if configPath != "" {
		projectPath = configPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	projectCfg, loaded, err := loadConfigFile(projectPath, mustExist)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	if loaded {
		sources.Project = projectPath
		cfg = mergeConfig(cfg, projectCfg)
	}

	cfg = mergeConfig(cfg, cli)

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	return cfg, sources, nil
}

func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigFileRead, path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	var cfg Config

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.Mode != "" {
		base.Mode = overlay.Mode
	}

	if overlay.Strict != nil {
		base.Strict = overlay.Strict
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.Mode != modeRename && cfg.Mode != modeBackup {
		return fmt.Errorf("%w: %q", errUnknownMode, cfg.Mode)
	}

	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	return nil
}

// FormatConfig returns the config as indented JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
