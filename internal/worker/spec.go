package worker

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// LibraryPathEnv tells the worker where its own library dependencies live.
const LibraryPathEnv = "PYGMENTS_PATH"

// DefaultPython is used when neither the config nor HILITE_PYTHON names an interpreter.
const DefaultPython = "python3"

// Spec describes how to launch a worker. Command, when set, is used verbatim;
// otherwise the worker is Script run by Python.
type Spec struct {
	Command     []string
	Python      string
	Script      string
	LibraryPath string
	Env         map[string]string
	Dir         string
}

// Command is a fully resolved worker command line.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Argv returns the command line as a single slice.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Resolve turns a Spec into an executable command. The executable must be
// found on PATH (or be a path) and the entry script, if any, must exist.
func Resolve(spec Spec) (Command, error) {
	var argv []string
	switch {
	case len(spec.Command) > 0:
		argv = append(argv, spec.Command...)
	case spec.Script != "":
		python := spec.Python
		if python == "" {
			python = DefaultPython
		}
		if _, err := os.Stat(spec.Script); err != nil {
			return Command{}, fmt.Errorf("worker script: %w", err)
		}
		argv = []string{python, spec.Script}
	default:
		return Command{}, fmt.Errorf("worker spec has neither command nor script")
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return Command{}, fmt.Errorf("resolve worker executable %q: %w", argv[0], err)
	}

	return Command{
		Path: path,
		Args: argv[1:],
		Env:  buildEnv(spec),
		Dir:  spec.Dir,
	}, nil
}

func buildEnv(spec Spec) []string {
	env := os.Environ()
	if spec.LibraryPath != "" {
		env = append(env, LibraryPathEnv+"="+spec.LibraryPath)
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}
	return env
}
