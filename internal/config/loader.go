package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the config file.
const (
	EnvConfig  = "HILITE_CONFIG"
	EnvTimeout = "HILITE_TIMEOUT"
	EnvLog     = "HILITE_LOG"
	EnvPython  = "HILITE_PYTHON"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from configPath, applies defaults and environment
// overrides, and validates the result. An empty path means no file: defaults
// plus environment only.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}
		if err := loadConfigFile(absPath, cfg); err != nil {
			return nil, err
		}
		cfg.SourceFile = absPath
		resolveRelativePaths(cfg, filepath.Dir(absPath))
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigFile finds a config file in the standard locations.
// Priority: $HILITE_CONFIG, ~/.config/hilite/config.yaml, ./hilite.yaml.
// It returns "" (and no error) when none exists.
func DiscoverConfigFile() (string, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s points at %q: %w", EnvConfig, path, err)
		}
		return path, nil
	}

	if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "hilite", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if _, err := os.Stat("hilite.yaml"); err == nil {
		return "hilite.yaml", nil
	}
	return "", nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", path)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	dec := yaml.NewDecoder(strings.NewReader(interpolated))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}

// resolveRelativePaths anchors file paths in the config to its directory.
func resolveRelativePaths(cfg *Config, dir string) {
	for _, p := range []*string{&cfg.Worker.Script, &cfg.Worker.LibraryPath, &cfg.Cache.Path} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvTimeout); ok && v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	if v, ok := os.LookupEnv(EnvLog); ok && v != "" {
		cfg.Log.File = v
	}
	if v, ok := os.LookupEnv(EnvPython); ok && v != "" {
		cfg.Worker.Python = v
	}
	return nil
}

func applyConfigDefaults(cfg *Config) {
	if len(cfg.Worker.Command) == 0 && cfg.Worker.Script == "" {
		cfg.Worker.Command = []string{DefaultWorkerCommand}
	}
	if cfg.Worker.Python == "" {
		cfg.Worker.Python = Defaults().Worker.Python
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
}

// ParseTimeout accepts a Go duration ("1.5s", "250ms") or a bare number of
// seconds ("8", "0.5"). Zero disables the bound.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("timeout must not be negative (got %q)", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative (got %q)", s)
	}
	return d, nil
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; Validate reports it.
		return match
	})
}
