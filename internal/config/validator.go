package config

import (
	"errors"
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Worker.Command) == 0 && c.Worker.Script == "" {
		errs = append(errs, fmt.Errorf("worker: either worker.command or worker.script is required"))
	}
	for i, arg := range c.Worker.Command {
		if strings.TrimSpace(arg) == "" {
			errs = append(errs, fmt.Errorf("worker.command[%d] is empty", i))
		}
	}
	if c.Worker.Script != "" && c.Worker.Python == "" {
		errs = append(errs, fmt.Errorf("worker.python is required when worker.script is set"))
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative (got %v)", c.Timeout))
	}
	if c.StderrGrace < 0 {
		errs = append(errs, fmt.Errorf("stderr_grace must not be negative (got %v)", c.StderrGrace))
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", c.Log.Level))
	}

	if c.Cache.Path == "" {
		errs = append(errs, fmt.Errorf("cache.path is required"))
	}

	for field, value := range c.stringFields() {
		if m := envVarPattern.FindStringSubmatch(value); m != nil {
			errs = append(errs, fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1]))
		}
	}

	return errors.Join(errs...)
}

// stringFields maps dotted field names to the string values that may carry
// ${VAR} references.
func (c *Config) stringFields() map[string]string {
	fields := map[string]string{
		"worker.python":       c.Worker.Python,
		"worker.script":       c.Worker.Script,
		"worker.library_path": c.Worker.LibraryPath,
		"log.file":            c.Log.File,
		"cache.path":          c.Cache.Path,
	}
	for i, arg := range c.Worker.Command {
		fields[fmt.Sprintf("worker.command[%d]", i)] = arg
	}
	for k, v := range c.Worker.Env {
		fields["worker.env."+k] = v
	}
	return fields
}
