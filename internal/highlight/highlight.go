// Package highlight is the public face of hilite: typed wrappers around the
// worker methods for highlighting code, emitting stylesheets, guessing lexers
// and listing what the worker supports.
package highlight

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/mattjoyce/hilite/internal/lexer"
	"github.com/mattjoyce/hilite/internal/rpc"
)

// DefaultFormatter is used when Options.Formatter is empty.
const DefaultFormatter = "html"

// DefaultEncoding is the output encoding when none is requested.
const DefaultEncoding = "utf-8"

// noLexer is the worker's message when no lexer matches.
const noLexer = "No lexer"

// Options are the recognised per-call settings. Options.Options is handed to
// the highlighting engine verbatim.
type Options struct {
	Lexer     string
	Mimetype  string
	Filename  string
	Formatter string
	Options   map[string]any

	// Timeout overrides the engine default for this call when positive.
	Timeout time.Duration
}

// Caller performs one worker round trip. *rpc.Engine satisfies it.
type Caller interface {
	Call(ctx context.Context, c rpc.Call) (rpc.Result, error)
}

// Client issues typed worker calls.
type Client struct {
	caller Caller
}

// New returns a Client that sends calls through caller.
func New(caller Caller) *Client {
	return &Client{caller: caller}
}

// Highlight renders code. Empty code is returned unchanged without contacting
// the worker. The result is re-encoded when Options["outencoding"] names an
// encoding other than UTF-8; in that case the returned string holds the
// encoded bytes.
func (c *Client) Highlight(ctx context.Context, code string, opts Options) (string, error) {
	if code == "" {
		return code, nil
	}

	name := DefaultEncoding
	if v, ok := opts.Options["outencoding"].(string); ok && v != "" {
		name = v
	}
	enc, err := outputEncoding(name)
	if err != nil {
		return "", err
	}

	// The worker always produces UTF-8; conversion happens here.
	engineOpts := make(map[string]any, len(opts.Options)+1)
	maps.Copy(engineOpts, opts.Options)
	engineOpts["outencoding"] = DefaultEncoding

	kwargs := selectors(opts)
	kwargs["formatter"] = formatterName(opts.Formatter)
	kwargs["options"] = engineOpts

	res, err := c.caller.Call(ctx, rpc.Call{
		Method:  "highlight",
		Kwargs:  kwargs,
		Payload: []byte(code),
		Timeout: opts.Timeout,
		Kind:    rpc.Text,
	})
	if err != nil {
		return "", err
	}
	if enc == nil {
		return res.Text, nil
	}
	out, err := enc.NewEncoder().String(res.Text)
	if err != nil {
		return "", fmt.Errorf("encode output as %s: %w", name, err)
	}
	return out, nil
}

// HighlightAs renders code with the given lexer.
func (c *Client) HighlightAs(ctx context.Context, l lexer.Lexer, code string, opts Options) (string, error) {
	opts.Lexer = l.Alias()
	return c.Highlight(ctx, code, opts)
}

// CSS returns the formatter's style definitions with every rule scoped under
// prefix. Options.Options carries style and classprefix.
func (c *Client) CSS(ctx context.Context, prefix string, opts Options) (string, error) {
	res, err := c.caller.Call(ctx, rpc.Call{
		Method:  "css",
		Args:    []any{formatterName(opts.Formatter), prefix},
		Kwargs:  maps.Clone(opts.Options),
		Timeout: opts.Timeout,
		Kind:    rpc.Text,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// LexerNameFor asks the worker which lexer it would pick for code, using the
// lexer, mimetype and filename hints in opts. It returns "" when nothing
// matches.
func (c *Client) LexerNameFor(ctx context.Context, code string, opts Options) (string, error) {
	var args []any
	if code != "" {
		args = []any{code}
	}
	res, err := c.caller.Call(ctx, rpc.Call{
		Method:  "lexer_name_for",
		Args:    args,
		Kwargs:  selectors(opts),
		Timeout: opts.Timeout,
		Kind:    rpc.Text,
	})
	if err != nil {
		var rerr *rpc.Error
		if errors.As(err, &rerr) && rerr.Kind == rpc.KindWorker && rerr.Message == noLexer {
			return "", nil
		}
		return "", err
	}
	return res.Text, nil
}

// Lexers lists every lexer the worker knows. It satisfies lexer.Source.
func (c *Client) Lexers(ctx context.Context) ([]lexer.Lexer, error) {
	var out []lexer.Lexer
	if err := c.structured(ctx, "get_all_lexers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Formatters lists the worker's output formatters.
func (c *Client) Formatters(ctx context.Context) ([]Formatter, error) {
	var out []Formatter
	if err := c.structured(ctx, "get_all_formatters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Styles lists the worker's colour styles.
func (c *Client) Styles(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.structured(ctx, "get_all_styles", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filters lists the worker's token filters.
func (c *Client) Filters(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.structured(ctx, "get_all_filters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) structured(ctx context.Context, method string, v any) error {
	res, err := c.caller.Call(ctx, rpc.Call{Method: method, Kind: rpc.Structured})
	if err != nil {
		return err
	}
	if err := res.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

func selectors(opts Options) map[string]any {
	kwargs := make(map[string]any, 5)
	if opts.Lexer != "" {
		kwargs["lexer"] = opts.Lexer
	}
	if opts.Mimetype != "" {
		kwargs["mimetype"] = opts.Mimetype
	}
	if opts.Filename != "" {
		kwargs["filename"] = opts.Filename
	}
	return kwargs
}

func formatterName(name string) string {
	if name == "" {
		return DefaultFormatter
	}
	return name
}

// outputEncoding resolves a WHATWG encoding label. UTF-8 resolves to nil.
func outputEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output encoding %q: %w", name, err)
	}
	if canonical, _ := htmlindex.Name(enc); strings.EqualFold(canonical, DefaultEncoding) {
		return nil, nil
	}
	return enc, nil
}
