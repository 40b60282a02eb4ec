package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/hilite/internal/config"
	"github.com/mattjoyce/hilite/internal/highlight"
	"github.com/mattjoyce/hilite/internal/lexer"
	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/rpc"
	"github.com/mattjoyce/hilite/internal/worker"
)

// commonFlags are accepted by every command that talks to the worker.
type commonFlags struct {
	config  string
	cache   string
	timeout string
	verbose bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.config, "config", "", "Path to configuration file")
	fs.StringVar(&c.cache, "cache", "", "Path to the lexer cache database")
	fs.StringVar(&c.timeout, "timeout", "", "Per-call timeout (seconds or Go duration, 0 disables)")
	fs.BoolVar(&c.verbose, "v", false, "Verbose logging")
	return c
}

// app is the per-invocation wiring: configuration, one engine and the typed
// client on top of it.
type app struct {
	cfg    *config.Config
	engine *rpc.Engine
	client *highlight.Client
	logger *slog.Logger
}

func loadConfig(flags *commonFlags) (*config.Config, error) {
	path := flags.config
	if path == "" {
		discovered, err := config.DiscoverConfigFile()
		if err != nil {
			return nil, fmt.Errorf("discover config: %w", err)
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.cache != "" {
		cfg.Cache.Path = flags.cache
	}
	if flags.timeout != "" {
		d, err := config.ParseTimeout(flags.timeout)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if flags.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	w, err := log.OpenSink(cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hilite: %v; logging to stderr\n", err)
		w = os.Stderr
	}
	log.SetupWithWriter(cfg.Log.Level, w)
}

func openApp(flags *commonFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)

	engine := rpc.NewEngine(cfg.EngineConfig())
	return &app{
		cfg:    cfg,
		engine: engine,
		client: highlight.New(engine),
		logger: log.WithComponent("cli"),
	}, nil
}

// Close stops the worker.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to stop worker", "error", err)
	}
}

func (a *app) openCache(ctx context.Context) (*lexer.Cache, error) {
	command, err := worker.Resolve(a.cfg.WorkerSpec())
	if err != nil {
		return nil, err
	}
	fingerprint, err := a.cfg.CacheFingerprint(command)
	if err != nil {
		return nil, fmt.Errorf("fingerprint worker: %w", err)
	}
	return lexer.OpenCache(ctx, a.cfg.Cache.Path, fingerprint)
}

// lexerIndex returns the cached lexer index, asking the worker on a miss.
func (a *app) lexerIndex(ctx context.Context) (*lexer.Index, error) {
	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return cache.Index(ctx, a.client)
}
