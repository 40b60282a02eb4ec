package doctor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/hilite/internal/config"
	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/rpc"
	"github.com/mattjoyce/hilite/internal/workerd/workertest"
)

func TestMain(m *testing.M) {
	workertest.RunIfHelper()
	log.SetupWithWriter("ERROR", io.Discard)
	os.Exit(m.Run())
}

func validConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	spec := workertest.Spec(mode)
	cfg.Worker.Command = spec.Command
	cfg.Worker.Env = spec.Env
	cfg.Cache.Path = filepath.Join(t.TempDir(), "lexers.db")
	cfg.Log.File = "null"
	return cfg
}

func engineFor(t *testing.T, cfg *config.Config) *rpc.Engine {
	t.Helper()
	e := rpc.NewEngine(cfg.EngineConfig())
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestValidate_HealthyWorker(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	d := New(cfg, engineFor(t, cfg))

	r := d.Validate(context.Background())
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if r.Probe == nil {
		t.Fatal("expected probe result")
	}
	if r.Probe.Styles == 0 || r.Probe.PID == 0 {
		t.Fatalf("unexpected probe: %+v", r.Probe)
	}
	assertHasWarning(t, r, "cache", "does not exist yet")
}

func TestValidate_FailingWorker(t *testing.T) {
	cfg := validConfig(t, workertest.Fail)
	d := New(cfg, engineFor(t, cfg))

	r := d.Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	assertHasError(t, r, "probe", workertest.FailMessage)
}

func TestValidate_HangingWorkerTimesOut(t *testing.T) {
	cfg := validConfig(t, workertest.Hang)
	d := New(cfg, engineFor(t, cfg))
	d.ProbeTimeout = 100 * time.Millisecond

	r := d.Validate(context.Background())
	assertHasError(t, r, "probe", "timeout")
}

func TestValidate_UnresolvableWorker(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	cfg.Worker.Command = []string{"definitely-not-a-hilite-worker"}
	d := New(cfg, engineFor(t, cfg))

	r := d.Validate(context.Background())
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	assertHasError(t, r, "worker", "definitely-not-a-hilite-worker")
	if r.Probe != nil {
		t.Fatal("probe must be skipped when the worker cannot be resolved")
	}
}

func TestValidate_ConfigErrorsAreSplit(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	cfg.Log.Level = "loud"
	cfg.Timeout = -time.Second

	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "config", "log.level")
	assertHasError(t, r, "config", "timeout")
	assertHasWarning(t, r, "probe", "skipped")
}

func TestValidate_MissingLibraryPath(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	cfg.Worker.LibraryPath = filepath.Join(t.TempDir(), "missing")

	r := New(cfg, nil).Validate(context.Background())
	assertHasWarning(t, r, "worker", "not accessible")
}

func TestValidate_CachePathIsDirectory(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	cfg.Cache.Path = t.TempDir()

	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "cache", "is a directory")
}

func TestValidate_BadLogSink(t *testing.T) {
	cfg := validConfig(t, workertest.Serve)
	cfg.Log.File = filepath.Join(t.TempDir(), "no", "such", "dir", "hilite.log")

	r := New(cfg, nil).Validate(context.Background())
	assertHasError(t, r, "log", "open log sink")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Healthy(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Probe: &Probe{Command: "hilite-worker", PID: 42, Styles: 3, Elapsed: time.Millisecond}}
	out := FormatHuman(r)
	if !strings.Contains(out, "healthy") || !strings.Contains(out, "pid 42") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
