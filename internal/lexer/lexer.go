// Package lexer indexes the worker's lexer metadata so lexers can be looked
// up by name, alias, file extension or mimetype without a round trip.
package lexer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Lexer describes one lexer the worker can use.
type Lexer struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	Filenames []string `json:"filenames"`
	Mimetypes []string `json:"mimetypes"`
}

// UnmarshalJSON accepts both the worker's [name, aliases, filenames,
// mimetypes] tuple and the object form used by the cache.
func (l *Lexer) UnmarshalJSON(data []byte) error {
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		type plain Lexer
		return json.Unmarshal(data, (*plain)(l))
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decode lexer: %w", err)
	}
	if len(tuple) != 4 {
		return fmt.Errorf("decode lexer: want 4 fields, got %d", len(tuple))
	}
	var out Lexer
	fields := []any{&out.Name, &out.Aliases, &out.Filenames, &out.Mimetypes}
	for i, f := range fields {
		if err := json.Unmarshal(tuple[i], f); err != nil {
			return fmt.Errorf("decode lexer field %d: %w", i, err)
		}
	}
	*l = out
	return nil
}

// Alias returns the lexer's primary alias, the name the worker accepts as
// the lexer option.
func (l Lexer) Alias() string {
	if len(l.Aliases) > 0 {
		return l.Aliases[0]
	}
	return strings.ToLower(l.Name)
}

// Extnames expands the lexer's filename globs into the file extensions they
// match. A character class such as "*.[ch]" yields one extension per
// character.
func (l Lexer) Extnames() []string {
	var out []string
	for _, pattern := range l.Filenames {
		out = append(out, expandExt(filepath.Ext(pattern))...)
	}
	return out
}

var charClass = regexp.MustCompile(`\[(.+)\]`)

func expandExt(ext string) []string {
	if ext == "" {
		return nil
	}
	m := charClass.FindStringSubmatchIndex(ext)
	if m == nil {
		return []string{ext}
	}
	class := ext[m[2]:m[3]]
	out := make([]string, 0, len(class))
	for _, r := range class {
		out = append(out, ext[:m[0]]+string(r)+ext[m[1]:])
	}
	return out
}

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mattjoyce/hilite/internal/lexer Source

// Source produces the full lexer list, usually by asking the worker.
type Source interface {
	Lexers(ctx context.Context) ([]Lexer, error)
}

// Index answers lookups over a fixed lexer list. The first lexer to claim a
// key in the combined index wins; the specific indexes keep the last one.
type Index struct {
	lexers    []Lexer
	loose     map[string]*Lexer
	names     map[string]*Lexer
	aliases   map[string]*Lexer
	extnames  map[string]*Lexer
	mimetypes map[string]*Lexer
}

// NewIndex builds an Index over lexers.
func NewIndex(lexers []Lexer) *Index {
	idx := &Index{
		lexers:    lexers,
		loose:     make(map[string]*Lexer),
		names:     make(map[string]*Lexer),
		aliases:   make(map[string]*Lexer),
		extnames:  make(map[string]*Lexer),
		mimetypes: make(map[string]*Lexer),
	}

	for i := range idx.lexers {
		l := &idx.lexers[i]

		idx.names[l.Name] = l
		idx.loose[strings.ToLower(l.Name)] = l

		for _, a := range l.Aliases {
			idx.aliases[a] = l
			claim(idx.loose, strings.ToLower(a), l)
		}
		for _, ext := range l.Extnames() {
			idx.extnames[ext] = l
			claim(idx.loose, strings.TrimPrefix(strings.ToLower(ext), "."), l)
		}
		for _, m := range l.Mimetypes {
			idx.mimetypes[m] = l
		}
	}
	return idx
}

func claim(m map[string]*Lexer, key string, l *Lexer) {
	if _, ok := m[key]; !ok {
		m[key] = l
	}
}

// All returns every lexer in worker order.
func (idx *Index) All() []Lexer {
	return idx.lexers
}

// Len returns the number of lexers.
func (idx *Index) Len() int {
	return len(idx.lexers)
}

// Find looks a lexer up by name, alias or extension, ignoring case.
func (idx *Index) Find(name string) (Lexer, bool) {
	return get(idx.loose, strings.ToLower(name))
}

// Resolve looks up a user-supplied lexer name. Exact aliases and proper names
// win over Find, whose keys are shared with other lexers' extensions.
func (idx *Index) Resolve(name string) (Lexer, bool) {
	if l, ok := idx.FindByAlias(name); ok {
		return l, true
	}
	if l, ok := idx.FindByName(name); ok {
		return l, true
	}
	return idx.Find(name)
}

// FindByName looks a lexer up by its exact proper name.
func (idx *Index) FindByName(name string) (Lexer, bool) {
	return get(idx.names, name)
}

// FindByAlias looks a lexer up by one of its aliases.
func (idx *Index) FindByAlias(alias string) (Lexer, bool) {
	return get(idx.aliases, alias)
}

// FindByExtname looks a lexer up by file extension, including the dot.
func (idx *Index) FindByExtname(ext string) (Lexer, bool) {
	return get(idx.extnames, ext)
}

// FindByMimetype looks a lexer up by mimetype.
func (idx *Index) FindByMimetype(mimetype string) (Lexer, bool) {
	return get(idx.mimetypes, mimetype)
}

func get(m map[string]*Lexer, key string) (Lexer, bool) {
	l, ok := m[key]
	if !ok {
		return Lexer{}, false
	}
	return *l, true
}
