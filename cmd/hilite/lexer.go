package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/hilite/internal/highlight"
	"github.com/mattjoyce/hilite/internal/lexer"
	"github.com/mattjoyce/hilite/internal/tui"
)

func runLexerNoun(ctx context.Context, args []string) int {
	if len(args) < 1 {
		printLexerNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLexerNounHelp(stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "name":
		return runLexerName(ctx, actionArgs)
	case "list":
		return runLexerList(ctx, actionArgs)
	case "find":
		return runLexerFind(ctx, actionArgs)
	case "browse":
		return runLexerBrowse(ctx, actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown lexer action: %s\n", action)
		return 1
	}
}

func runLexerName(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("name", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	var opts highlight.Options
	fs.StringVar(&opts.Lexer, "lexer", "", "Lexer name hint")
	fs.StringVar(&opts.Filename, "filename", "", "File name hint")
	fs.StringVar(&opts.Mimetype, "mimetype", "", "Mimetype hint")
	if err := parseInterleaved(fs, args); err != nil {
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(stderr, "Usage: hilite lexer name [FILE] [flags]")
		return 1
	}

	path := fs.Arg(0)
	var code string
	switch {
	case path != "":
		var err error
		if code, err = readInput(path); err != nil {
			fmt.Fprintf(stderr, "Failed to read input: %v\n", err)
			return 1
		}
		if opts.Filename == "" && path != "-" {
			opts.Filename = filepath.Base(path)
		}
	case opts.Lexer == "" && opts.Filename == "" && opts.Mimetype == "":
		var err error
		if code, err = readInput(""); err != nil {
			fmt.Fprintf(stderr, "Failed to read input: %v\n", err)
			return 1
		}
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	name, err := a.client.LexerNameFor(ctx, code, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Lexer lookup failed: %v\n", err)
		return 1
	}
	if name == "" {
		fmt.Fprintln(stderr, "No lexer")
		return 1
	}
	fmt.Fprintln(stdout, name)
	return 0
}

func runLexerList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	idx, err := a.lexerIndex(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load lexers: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(idx.All())
	}
	for _, l := range idx.All() {
		printLexer(l)
	}
	return 0
}

func runLexerFind(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	by := fs.String("by", "any", "Key to match: any, name, alias, ext, mimetype")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := parseInterleaved(fs, args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: hilite lexer find <query> [--by any|name|alias|ext|mimetype]")
		return 1
	}
	query := fs.Arg(0)

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	idx, err := a.lexerIndex(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load lexers: %v\n", err)
		return 1
	}

	var find func(string) (lexer.Lexer, bool)
	switch *by {
	case "any":
		find = idx.Find
	case "name":
		find = idx.FindByName
	case "alias":
		find = idx.FindByAlias
	case "ext":
		find = idx.FindByExtname
		if !strings.HasPrefix(query, ".") {
			query = "." + query
		}
	case "mimetype":
		find = idx.FindByMimetype
	default:
		fmt.Fprintf(stderr, "Unknown --by value: %s\n", *by)
		return 1
	}

	l, ok := find(query)
	if !ok {
		fmt.Fprintf(stderr, "No lexer matches %q\n", query)
		return 1
	}
	if *jsonOut {
		return printJSON(l)
	}
	printLexer(l)
	return 0
}

func runLexerBrowse(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	idx, err := a.lexerIndex(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load lexers: %v\n", err)
		return 1
	}
	// The worker is not needed while the user browses.
	a.Close()

	l, ok, err := tui.BrowseLexers(idx.All(), os.Stdin, os.Stderr)
	if err != nil {
		fmt.Fprintf(stderr, "TUI error: %v\n", err)
		return 1
	}
	if !ok {
		return 1
	}
	fmt.Fprintln(stdout, l.Alias())
	return 0
}

func printLexer(l lexer.Lexer) {
	fmt.Fprintf(stdout, "%s\n", l.Name)
	if len(l.Aliases) > 0 {
		fmt.Fprintf(stdout, "  aliases:   %s\n", strings.Join(l.Aliases, ", "))
	}
	if len(l.Filenames) > 0 {
		fmt.Fprintf(stdout, "  filenames: %s\n", strings.Join(l.Filenames, ", "))
	}
	if len(l.Mimetypes) > 0 {
		fmt.Fprintf(stdout, "  mimetypes: %s\n", strings.Join(l.Mimetypes, ", "))
	}
}

func runCacheNoun(ctx context.Context, args []string) int {
	if len(args) < 1 {
		printCacheNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCacheNounHelp(stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "build":
		return runCacheBuild(ctx, actionArgs)
	case "show":
		return runCacheShow(ctx, actionArgs)
	default:
		fmt.Fprintf(stderr, "Unknown cache action: %s\n", action)
		return 1
	}
}

func runCacheBuild(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	cache, err := a.openCache(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer cache.Close()

	idx, err := cache.Rebuild(ctx, a.client)
	if err != nil {
		fmt.Fprintf(stderr, "Cache build failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Cached %d lexers in %s\n", idx.Len(), a.cfg.Cache.Path)
	return 0
}

type cacheInfo struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Cached      bool      `json:"cached"`
	Lexers      int       `json:"lexers"`
	BuiltAt     time.Time `json:"built_at,omitzero"`
}

func runCacheShow(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	// Inspecting the cache never starts a worker.
	cfg, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	setupLogging(cfg)
	a := &app{cfg: cfg}

	cache, err := a.openCache(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open cache: %v\n", err)
		return 1
	}
	defer cache.Close()

	lexers, builtAt, ok, err := cache.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read cache: %v\n", err)
		return 1
	}
	info := cacheInfo{
		Path:        cfg.Cache.Path,
		Fingerprint: cache.Fingerprint(),
		Cached:      ok,
		Lexers:      len(lexers),
		BuiltAt:     builtAt,
	}
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Fprintf(stdout, "path:        %s\n", info.Path)
	fmt.Fprintf(stdout, "fingerprint: %s\n", info.Fingerprint)
	if !ok {
		fmt.Fprintln(stdout, "status:      empty (run 'hilite cache build')")
		return 0
	}
	fmt.Fprintf(stdout, "lexers:      %d\n", info.Lexers)
	fmt.Fprintf(stdout, "built_at:    %s\n", info.BuiltAt.Format(time.RFC3339))
	return 0
}
