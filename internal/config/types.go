package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/hilite/internal/rpc"
	"github.com/mattjoyce/hilite/internal/worker"
)

// DefaultWorkerCommand is the worker launched when neither a command nor a
// script is configured.
const DefaultWorkerCommand = "hilite-worker"

// DefaultTimeout bounds each worker call unless overridden.
const DefaultTimeout = 8 * time.Second

// Config represents the complete hilite configuration.
type Config struct {
	Worker      WorkerConfig  `yaml:"worker"`
	Timeout     time.Duration `yaml:"timeout"`
	StderrGrace time.Duration `yaml:"stderr_grace"`
	Log         LogConfig     `yaml:"log"`
	Cache       CacheConfig   `yaml:"cache"`

	// SourceFile is the file the config was loaded from, empty for defaults.
	SourceFile string `yaml:"-"`
}

// WorkerConfig describes how the worker process is launched. Command, when
// set, wins over Python + Script.
type WorkerConfig struct {
	Command     []string          `yaml:"command,omitempty"`
	Python      string            `yaml:"python"`
	Script      string            `yaml:"script"`
	LibraryPath string            `yaml:"library_path"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// LogConfig defines logging settings. File takes the same values as HILITE_LOG.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// CacheConfig defines the lexer metadata cache.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			Python: worker.DefaultPython,
		},
		Timeout:     DefaultTimeout,
		StderrGrace: rpc.DefaultStderrGrace,
		Log: LogConfig{
			Level: "warn",
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
		},
	}
}

func defaultCachePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "hilite", "lexers.db")
	}
	return filepath.Join(".hilite", "lexers.db")
}

// WorkerSpec converts the worker section into a launch spec.
func (c *Config) WorkerSpec() worker.Spec {
	return worker.Spec{
		Command:     c.Worker.Command,
		Python:      c.Worker.Python,
		Script:      c.Worker.Script,
		LibraryPath: c.Worker.LibraryPath,
		Env:         c.Worker.Env,
	}
}

// EngineConfig returns the rpc engine settings.
func (c *Config) EngineConfig() rpc.Config {
	return rpc.Config{
		Worker:      c.WorkerSpec(),
		Timeout:     c.Timeout,
		StderrGrace: c.StderrGrace,
	}
}
