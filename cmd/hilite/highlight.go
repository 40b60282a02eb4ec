package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/hilite/internal/doctor"
	"github.com/mattjoyce/hilite/internal/highlight"
)

// optionFlags collects repeated -O key=value engine options.
type optionFlags map[string]any

func (o optionFlags) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o[k]))
	}
	return strings.Join(parts, ",")
}

func (o optionFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	o[strings.TrimSpace(k)] = optionValue(strings.TrimSpace(v))
	return nil
}

// optionValue keeps integers and the literals true and false typed so the
// worker sees them as JSON numbers and booleans. Anything else is a string.
func optionValue(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// readInput returns the contents of path, or stdin for "" and "-".
func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runHighlight(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("highlight", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	var opts highlight.Options
	var style, outencoding string
	engineOpts := optionFlags{}
	fs.StringVar(&opts.Lexer, "lexer", "", "Lexer name or alias")
	fs.StringVar(&opts.Filename, "filename", "", "Pick the lexer by file name")
	fs.StringVar(&opts.Mimetype, "mimetype", "", "Pick the lexer by mimetype")
	fs.StringVar(&opts.Formatter, "formatter", highlight.DefaultFormatter, "Output formatter")
	fs.StringVar(&style, "style", "", "Colour style")
	fs.StringVar(&outencoding, "outencoding", "", "Output encoding (default utf-8)")
	fs.Var(engineOpts, "O", "Engine option key=value (repeatable)")
	if err := parseInterleaved(fs, args); err != nil {
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(stderr, "Usage: hilite highlight [FILE] [flags]")
		return 1
	}
	path := fs.Arg(0)

	code, err := readInput(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read input: %v\n", err)
		return 1
	}
	// Empty input highlights to nothing; the worker is never started.
	if code == "" {
		return 0
	}
	if style != "" {
		engineOpts["style"] = style
	}
	if outencoding != "" {
		engineOpts["outencoding"] = outencoding
	}
	opts.Options = engineOpts
	if opts.Lexer == "" && opts.Mimetype == "" && opts.Filename == "" && path != "" && path != "-" {
		opts.Filename = filepath.Base(path)
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	// Accept any spelling the index knows ("Python", "py", "pyw").
	if opts.Lexer != "" {
		if idx, err := a.lexerIndex(ctx); err != nil {
			a.logger.Warn("lexer cache unavailable, passing lexer name through", "error", err)
		} else if l, ok := idx.Resolve(opts.Lexer); ok {
			opts.Lexer = l.Alias()
		}
	}

	out, err := a.client.Highlight(ctx, code, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Highlight failed: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, out)
	if out != "" && !strings.HasSuffix(out, "\n") {
		fmt.Fprintln(stdout)
	}
	return 0
}

func runCSS(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("css", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	var prefix, style, classprefix string
	var opts highlight.Options
	fs.StringVar(&prefix, "prefix", "", "Selector every rule is scoped under")
	fs.StringVar(&style, "style", "", "Colour style")
	fs.StringVar(&classprefix, "classprefix", "", "Prefix for token class names")
	fs.StringVar(&opts.Formatter, "formatter", highlight.DefaultFormatter, "Formatter")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Usage: hilite css [flags]")
		return 1
	}

	opts.Options = map[string]any{}
	if style != "" {
		opts.Options["style"] = style
	}
	if classprefix != "" {
		opts.Options["classprefix"] = classprefix
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	defer a.Close()

	out, err := a.client.CSS(ctx, prefix, opts)
	if err != nil {
		fmt.Fprintf(stderr, "CSS failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, out)
	return 0
}

// runListing handles formatters, styles and filters.
func runListing(ctx context.Context, what string, args []string) int {
	fs := flag.NewFlagSet(what, flag.ContinueOnError)
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

	if what == "formatters" {
		formatters, err := a.client.Formatters(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to list formatters: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(formatters)
		}
		for _, f := range formatters {
			fmt.Fprintf(stdout, "%-16s %s\n", f.Name, strings.Join(f.Aliases, ", "))
		}
		return 0
	}

	list := a.client.Styles
	if what == "filters" {
		list = a.client.Filters
	}
	names, err := list(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to list %s: %v\n", what, err)
		return 1
	}
	if *jsonOut {
		return printJSON(names)
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return 0
}

func runDoctor(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := addCommonFlags(fs)
	var strict, jsonOut bool
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := openApp(common)
	if err != nil {
		fmt.Fprintf(stderr, "Config load error: %v\n", err)
		return 1
	}
	defer a.Close()

	result := doctor.New(a.cfg, a.engine).Validate(ctx)

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

// parseInterleaved parses flags that may follow positional arguments, so
// "hilite highlight main.go --style monokai" works.
func parseInterleaved(fs *flag.FlagSet, args []string) error {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
	return fs.Parse(append([]string{"--"}, positional...))
}
