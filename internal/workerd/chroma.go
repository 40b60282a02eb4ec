package workerd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/mattjoyce/hilite/internal/protocol"
)

// ErrNoLexer is reported when no lexer matches the request. The text is part
// of the wire contract and is matched by hosts.
var ErrNoLexer = errors.New("No lexer")

// Chroma answers the worker methods using the chroma highlighter.
type Chroma struct{}

// Handle implements Handler.
func (c Chroma) Handle(_ context.Context, req *protocol.Request) ([]byte, error) {
	switch req.Method {
	case "highlight":
		return c.highlight(req)
	case "css":
		return c.css(req)
	case "lexer_name_for":
		return c.lexerNameFor(req)
	case "get_all_lexers":
		return allLexers()
	case "get_all_formatters":
		return allFormatters()
	case "get_all_styles":
		return json.Marshal(styles.Names())
	case "get_all_filters":
		// chroma has no token filters.
		return []byte("[]"), nil
	default:
		return nil, fmt.Errorf("Invalid method %s", req.Method)
	}
}

func (c Chroma) highlight(req *protocol.Request) ([]byte, error) {
	code := textArg(req)
	opts := nested(req.Kwargs, "options")

	lexer, err := lexerFor(code, req.Kwargs)
	if err != nil {
		return nil, err
	}

	name := strings.ToLower(str(req.Kwargs, "formatter"))
	if name == "" {
		name = "html"
	}
	formatter, err := formatterFor(name, opts)
	if err != nil {
		return nil, err
	}

	it, err := chroma.Coalesce(lexer).Tokenise(nil, code)
	if err != nil {
		return nil, fmt.Errorf("tokenise: %w", err)
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, styles.Get(str(opts, "style")), it); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	return buf.Bytes(), nil
}

func (c Chroma) css(req *protocol.Request) ([]byte, error) {
	name, scope := "html", ""
	if len(req.Args) > 0 {
		if s, ok := req.Args[0].(string); ok && s != "" {
			name = strings.ToLower(s)
		}
	}
	if len(req.Args) > 1 {
		scope, _ = req.Args[1].(string)
	}
	if name != "html" {
		return nil, fmt.Errorf("formatter %q has no style definitions", name)
	}

	f := html.New(html.WithClasses(true), html.ClassPrefix(str(req.Kwargs, "classprefix")))
	var buf bytes.Buffer
	if err := f.WriteCSS(&buf, styles.Get(str(req.Kwargs, "style"))); err != nil {
		return nil, fmt.Errorf("write css: %w", err)
	}
	return []byte(scopeCSS(buf.String(), scope)), nil
}

func (c Chroma) lexerNameFor(req *protocol.Request) ([]byte, error) {
	lexer, err := lexerFor(textArg(req), req.Kwargs)
	if err != nil {
		return nil, err
	}
	cfg := lexer.Config()
	if len(cfg.Aliases) > 0 {
		return []byte(cfg.Aliases[0]), nil
	}
	return []byte(strings.ToLower(cfg.Name)), nil
}

func allLexers() ([]byte, error) {
	all := make([][]any, 0, len(lexers.GlobalLexerRegistry.Lexers))
	for _, l := range lexers.GlobalLexerRegistry.Lexers {
		cfg := l.Config()
		all = append(all, []any{cfg.Name, orEmpty(cfg.Aliases), orEmpty(cfg.Filenames), orEmpty(cfg.MimeTypes)})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i][0].(string) < all[j][0].(string)
	})
	return json.Marshal(all)
}

func allFormatters() ([]byte, error) {
	names := formatters.Names()
	sort.Strings(names)
	all := make([][]any, 0, len(names))
	for _, name := range names {
		class := strings.ToUpper(name[:1]) + name[1:] + "Formatter"
		all = append(all, []any{class, name, []string{name}})
	}
	return json.Marshal(all)
}

// lexerFor picks a lexer the same way the reference worker does: explicit
// name, then mimetype, then filename, then content analysis.
func lexerFor(code string, kwargs map[string]any) (chroma.Lexer, error) {
	var lexer chroma.Lexer
	switch {
	case str(kwargs, "lexer") != "":
		lexer = lexers.Get(str(kwargs, "lexer"))
	case str(kwargs, "mimetype") != "":
		lexer = lexers.MatchMimeType(str(kwargs, "mimetype"))
	case str(kwargs, "filename") != "":
		lexer = lexers.Match(str(kwargs, "filename"))
	case code != "":
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return nil, ErrNoLexer
	}
	return lexer, nil
}

func formatterFor(name string, opts map[string]any) (chroma.Formatter, error) {
	if name == "html" {
		return html.New(
			html.WithClasses(!boolOpt(opts, "noclasses")),
			html.ClassPrefix(str(opts, "classprefix")),
			html.WithLineNumbers(boolOpt(opts, "linenos")),
		), nil
	}
	f, ok := formatters.Registry[name]
	if !ok {
		return nil, fmt.Errorf("no formatter found for name %q", name)
	}
	return f, nil
}

// scopeCSS prefixes every rule chroma emits with scope. chroma writes one
// "/* Token */ .selector { ... }" rule per line.
func scopeCSS(css, scope string) string {
	if scope == "" {
		return css
	}
	lines := strings.Split(css, "\n")
	for i, line := range lines {
		if j := strings.Index(line, "*/ "); j >= 0 {
			lines[i] = line[:j+3] + scope + " " + line[j+3:]
		}
	}
	return strings.Join(lines, "\n")
}

func textArg(req *protocol.Request) string {
	if len(req.Payload) > 0 {
		return string(req.Payload)
	}
	if len(req.Args) > 0 {
		if s, ok := req.Args[0].(string); ok {
			return s
		}
	}
	return ""
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func nested(m map[string]any, key string) map[string]any {
	n, _ := m[key].(map[string]any)
	return n
}

func boolOpt(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	case json.Number:
		return v.String() != "0"
	}
	return false
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
