package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Swapped out by tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runCLI(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func runCLI(ctx context.Context, cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "lexer":
		return runLexerNoun(ctx, args)
	case "cache":
		return runCacheNoun(ctx, args)

	// --- VERBS ---
	case "highlight":
		if hasHelpFlag(args) {
			printHighlightHelp()
			return 0
		}
		return runHighlight(ctx, args)
	case "css":
		if hasHelpFlag(args) {
			printCSSHelp()
			return 0
		}
		return runCSS(ctx, args)
	case "formatters", "styles", "filters":
		return runListing(ctx, cmd, args)
	case "doctor":
		return runDoctor(ctx, args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Usage: hilite version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info)
	}

	fmt.Fprintf(stdout, "hilite %s\n", info.Version)
	fmt.Fprintf(stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `hilite - syntax highlighting through a long-lived worker process

Usage:
  hilite <command> [flags]
  hilite <noun> <action> [flags]

Commands:
  highlight [FILE]     Highlight FILE (or stdin)
  css                  Print the stylesheet for a style
  formatters           List output formatters
  styles               List colour styles
  filters              List token filters
  doctor               Check configuration and worker health
  version              Show version information

Lexer Commands:
  lexer name [FILE]    Ask the worker which lexer it would use
  lexer list           List every lexer
  lexer find <query>   Look a lexer up by name, alias, extension or mimetype
  lexer browse         Pick a lexer interactively

Cache Commands:
  cache build          Rebuild the lexer cache from the worker
  cache show           Show what the lexer cache holds

Common flags:
  --config PATH        Configuration file (default: $HILITE_CONFIG, ~/.config/hilite/config.yaml)
  --cache PATH         Lexer cache database
  --timeout DURATION   Per-call timeout, seconds or Go duration (0 disables)
  -v                   Verbose logging

Use 'hilite <command> --help' for command-specific flags.
`)
}

func printHighlightHelp() {
	fmt.Fprintln(stdout, "Usage: hilite highlight [FILE] [--lexer NAME] [--filename NAME] [--mimetype TYPE]")
	fmt.Fprintln(stdout, "                        [--formatter NAME] [--style NAME] [--outencoding ENC] [-O key=value]...")
	fmt.Fprintln(stdout, "Highlight FILE, or stdin when FILE is omitted or '-'.")
}

func printCSSHelp() {
	fmt.Fprintln(stdout, "Usage: hilite css [--prefix SELECTOR] [--style NAME] [--classprefix PREFIX] [--formatter NAME]")
	fmt.Fprintln(stdout, "Print the formatter's style definitions, every rule scoped under SELECTOR.")
}

func printLexerNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: hilite lexer <action>")
	fmt.Fprintln(w, "Actions: name, list, find, browse")
}

func printCacheNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: hilite cache <action>")
	fmt.Fprintln(w, "Actions: build, show")
}
