// Package doctor checks a hilite installation: configuration, worker
// resolution, log sink and cache paths, and a live round trip to the worker.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/hilite/internal/config"
	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/rpc"
	"github.com/mattjoyce/hilite/internal/storage"
	"github.com/mattjoyce/hilite/internal/worker"
)

// DefaultProbeTimeout bounds the live worker round trip.
const DefaultProbeTimeout = 10 * time.Second

// Result holds the outcome of a doctor run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
	Probe    *Probe  `json:"probe,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Probe records a successful live round trip.
type Probe struct {
	Command string        `json:"command"`
	PID     int           `json:"pid,omitempty"`
	Styles  int           `json:"styles"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Engine is the part of *rpc.Engine the doctor needs.
type Engine interface {
	Call(ctx context.Context, c rpc.Call) (rpc.Result, error)
	PID() int
}

// Doctor validates a configuration and, when given an engine, the worker it
// launches.
type Doctor struct {
	cfg          *config.Config
	engine       Engine
	ProbeTimeout time.Duration
}

// New creates a Doctor. engine may be nil to skip the live probe.
func New(cfg *config.Config, engine Engine) *Doctor {
	return &Doctor{cfg: cfg, engine: engine, ProbeTimeout: DefaultProbeTimeout}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	command, ok := d.validateWorker(r)
	d.validateLogSink(r)
	d.validateCachePath(r)
	if ok {
		d.probeWorker(ctx, r, command)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports each configuration error separately.
func (d *Doctor) validateConfig(r *Result) {
	err := d.cfg.Validate()
	if err == nil {
		return
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			d.addError(r, "config", "", e.Error())
		}
		return
	}
	d.addError(r, "config", "", err.Error())
}

// validateWorker resolves the worker command line.
func (d *Doctor) validateWorker(r *Result) (worker.Command, bool) {
	command, err := worker.Resolve(d.cfg.WorkerSpec())
	if err != nil {
		field := "worker.command"
		if len(d.cfg.Worker.Command) == 0 {
			field = "worker.script"
		}
		d.addError(r, "worker", field, err.Error())
		return worker.Command{}, false
	}

	if lib := d.cfg.Worker.LibraryPath; lib != "" {
		if info, err := os.Stat(lib); err != nil {
			d.addWarning(r, "worker", "worker.library_path",
				fmt.Sprintf("library path %q is not accessible: %v", lib, err))
		} else if !info.IsDir() {
			d.addWarning(r, "worker", "worker.library_path",
				fmt.Sprintf("library path %q is not a directory", lib))
		}
	}
	return command, true
}

// validateLogSink checks that the configured log destination can be opened.
func (d *Doctor) validateLogSink(r *Result) {
	w, err := log.OpenSink(d.cfg.Log.File)
	if err != nil {
		d.addError(r, "log", "log.file", err.Error())
		return
	}
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stderr) {
		_ = c.Close()
	}
}

// validateCachePath checks the cache location is usable as a file.
func (d *Doctor) validateCachePath(r *Result) {
	path := d.cfg.Cache.Path
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		d.addError(r, "cache", "cache.path", fmt.Sprintf("cache path %q is a directory", path))
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "cache", "cache.path",
			fmt.Sprintf("cache %q does not exist yet; it is built on first use (or run 'hilite cache build')", path))
	case err != nil:
		d.addError(r, "cache", "cache.path", err.Error())
	}
	var remote *storage.RemoteFSError
	if err := storage.CheckLocal(path, path+".lock"); errors.As(err, &remote) {
		d.addError(r, "cache", "cache.path", remote.Error())
	}
}

// probeWorker performs a live get_all_styles round trip.
func (d *Doctor) probeWorker(ctx context.Context, r *Result, command worker.Command) {
	if d.engine == nil {
		d.addWarning(r, "probe", "", "live worker probe skipped")
		return
	}

	start := time.Now()
	res, err := d.engine.Call(ctx, rpc.Call{
		Method:  "get_all_styles",
		Kind:    rpc.Structured,
		Timeout: d.ProbeTimeout,
	})
	if err != nil {
		d.addError(r, "probe", "", fmt.Sprintf("worker round trip failed: %v", err))
		return
	}

	var styles []string
	if err := res.Decode(&styles); err != nil {
		d.addError(r, "probe", "", fmt.Sprintf("worker returned unreadable styles: %v", err))
		return
	}
	if len(styles) == 0 {
		d.addWarning(r, "probe", "", "worker reports no styles")
	}

	r.Probe = &Probe{
		Command: command.String(),
		PID:     d.engine.PID(),
		Styles:  len(styles),
		Elapsed: time.Since(start),
	}
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Installation healthy.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Installation healthy (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Installation broken (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	if p := r.Probe; p != nil {
		fmt.Fprintf(&b, "  worker %q (pid %d) answered in %v with %d styles\n",
			p.Command, p.PID, p.Elapsed.Round(time.Millisecond), p.Styles)
	}
	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
