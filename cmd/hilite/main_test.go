package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/workerd/workertest"
)

func TestMain(m *testing.M) {
	workertest.RunIfHelper()
	log.SetupWithWriter("ERROR", io.Discard)
	os.Exit(m.Run())
}

// writeConfig points hilite at the test binary running as a serve worker.
func writeConfig(t *testing.T) (configPath, cachePath string) {
	t.Helper()
	dir := t.TempDir()
	spec := workertest.Spec(workertest.Serve)
	cachePath = filepath.Join(dir, "lexers.db")

	var b strings.Builder
	b.WriteString("worker:\n  command:\n")
	for _, arg := range spec.Command {
		fmt.Fprintf(&b, "    - %q\n", arg)
	}
	b.WriteString("  env:\n")
	for k, v := range spec.Env {
		fmt.Fprintf(&b, "    %s: %q\n", k, v)
	}
	fmt.Fprintf(&b, "timeout: 10s\nlog:\n  level: error\n  file: \"null\"\ncache:\n  path: %q\n", cachePath)

	configPath = filepath.Join(dir, "hilite.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(b.String()), 0o644))
	return configPath, cachePath
}

func run(t *testing.T, input string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	stdin, stdout, stderr = strings.NewReader(input), &out, &errOut
	t.Cleanup(func() {
		stdin, stdout, stderr = os.Stdin, os.Stdout, os.Stderr
	})
	code := runCLI(context.Background(), args)
	return code, out.String(), errOut.String()
}

func TestUsageAndUnknownCommand(t *testing.T) {
	code, _, errOut := run(t, "")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage:")

	code, _, errOut = run(t, "", "paint")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: paint")

	code, out, _ := run(t, "", "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "lexer browse")
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "", "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "hilite ")

	code, out, _ = run(t, "", "version", "--json")
	require.Equal(t, 0, code)
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info.Version)
}

func TestHighlightCommand(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := run(t, "print(1)", "highlight", "--config", cfg, "--lexer", "Python")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "print</span>")

	src := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(src, []byte("package main\n"), 0o644))
	code, out, errOut = run(t, "", "highlight", src, "--config", cfg, "--style", "monokai")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "package</span>")

	code, _, errOut = run(t, "x", "highlight", "--config", cfg, "--outencoding", "klingon-8")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "klingon-8")
}

func TestHighlightEmptyInputSkipsWorker(t *testing.T) {
	cfg, cachePath := writeConfig(t)

	code, out, errOut := run(t, "", "highlight", "--config", cfg, "--lexer", "python")
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, out)

	// Neither the lexer cache nor the worker was touched.
	_, err := os.Stat(cachePath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	code, out, errOut = run(t, "", "cache", "show", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	var info cacheInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.False(t, info.Cached)
}

func TestCSSCommand(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := run(t, "", "css", "--config", cfg, "--prefix", ".code")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, ".code ")
}

func TestListingCommands(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := run(t, "", "styles", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "monokai\n")

	code, out, errOut = run(t, "", "formatters", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"Html"`)

	code, out, errOut = run(t, "", "filters", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "[]\n", out)
}

func TestLexerCommands(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := run(t, "", "lexer", "name", "--config", cfg, "--filename", "main.go")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "go\n", out)

	code, out, errOut = run(t, "", "lexer", "find", "go", "--by", "ext", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.True(t, strings.HasPrefix(out, "Go\n"), out)

	code, _, errOut = run(t, "", "lexer", "find", "--config", cfg, "no-such-language")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "No lexer matches")

	code, out, errOut = run(t, "", "lexer", "list", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Python\n")

	code, _, errOut = run(t, "", "lexer", "dance")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown lexer action")
}

func TestCacheCommands(t *testing.T) {
	cfg, cachePath := writeConfig(t)

	code, out, errOut := run(t, "", "cache", "show", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	var before cacheInfo
	require.NoError(t, json.Unmarshal([]byte(out), &before))
	assert.False(t, before.Cached)
	assert.Equal(t, cachePath, before.Path)

	code, out, errOut = run(t, "", "cache", "build", "--config", cfg)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Cached ")

	code, out, errOut = run(t, "", "cache", "show", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	var after cacheInfo
	require.NoError(t, json.Unmarshal([]byte(out), &after))
	assert.True(t, after.Cached)
	assert.Positive(t, after.Lexers)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
}

func TestDoctorCommand(t *testing.T) {
	cfg, _ := writeConfig(t)

	code, out, errOut := run(t, "", "doctor", "--config", cfg, "--json")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"valid": true`)

	// The cache does not exist yet, which is a warning.
	code, _, _ = run(t, "", "doctor", "--config", cfg, "--strict")
	assert.Equal(t, 2, code)
}

func TestOptionFlags(t *testing.T) {
	opts := optionFlags{}
	require.NoError(t, opts.Set("linenos=true"))
	require.NoError(t, opts.Set("tabsize=4"))
	require.NoError(t, opts.Set("style = monokai"))
	require.NoError(t, opts.Set("linenostart=1"))
	require.NoError(t, opts.Set("nowrap=0"))
	require.NoError(t, opts.Set("hl_lines=t"))
	require.NoError(t, opts.Set("full=False"))
	assert.Error(t, opts.Set("nokey"))

	assert.Equal(t, optionFlags{
		"linenos":     true,
		"tabsize":     4,
		"style":       "monokai",
		"linenostart": 1,
		"nowrap":      0,
		"hl_lines":    "t",
		"full":        "False",
	}, opts)
	assert.Equal(t, "full=False,hl_lines=t,linenos=true,linenostart=1,nowrap=0,style=monokai,tabsize=4", opts.String())
}

func TestParseInterleaved(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	style := fs.String("style", "", "")
	verbose := fs.Bool("v", false, "")

	require.NoError(t, parseInterleaved(fs, []string{"a.go", "--style", "monokai", "b.go", "-v"}))
	assert.Equal(t, "monokai", *style)
	assert.True(t, *verbose)
	assert.Equal(t, []string{"a.go", "b.go"}, fs.Args())
}
