package lexer

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/hilite/internal/lock"
	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/storage"
)

// Fingerprint identifies a worker installation. Lexer lists cached under one
// fingerprint are never served for another.
func Fingerprint(parts ...string) string {
	sum := blake3.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Cache persists lexer lists in SQLite keyed by worker fingerprint.
type Cache struct {
	db          *sql.DB
	lockPath    string
	fingerprint string
	logger      *slog.Logger
}

// OpenCache opens the cache database at path for the worker identified by
// fingerprint. Rebuilds are serialised through path + ".lock". Both files
// must be on a local filesystem.
func OpenCache(ctx context.Context, path, fingerprint string) (*Cache, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("cache fingerprint is empty")
	}
	lockPath := path + ".lock"
	if err := storage.CheckLocal(path, lockPath); err != nil {
		return nil, err
	}
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Cache{
		db:          db,
		lockPath:    lockPath,
		fingerprint: fingerprint,
		logger:      log.WithComponent("lexer-cache"),
	}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Fingerprint returns the worker fingerprint this cache serves.
func (c *Cache) Fingerprint() string {
	return c.fingerprint
}

// Load returns the cached lexers. ok is false when nothing is cached for the
// fingerprint.
func (c *Cache) Load(ctx context.Context) (lexers []Lexer, builtAt time.Time, ok bool, err error) {
	var raw, built string
	err = c.db.QueryRowContext(ctx,
		`SELECT lexers, built_at FROM lexer_cache WHERE fingerprint = ?;`, c.fingerprint,
	).Scan(&raw, &built)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load lexer cache: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &lexers); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode lexer cache: %w", err)
	}
	builtAt, err = time.Parse(time.RFC3339Nano, built)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode lexer cache built_at (run 'hilite cache build'): %w", err)
	}
	return lexers, builtAt, true, nil
}

// Store replaces the cached lexers for the fingerprint.
func (c *Cache) Store(ctx context.Context, lexers []Lexer) error {
	raw, err := json.Marshal(lexers)
	if err != nil {
		return fmt.Errorf("encode lexer cache: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
INSERT INTO lexer_cache(fingerprint, lexers, built_at) VALUES(?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET lexers = excluded.lexers, built_at = excluded.built_at;`,
		c.fingerprint, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store lexer cache: %w", err)
	}
	return nil
}

// Index returns an index over the cached lexers, fetching them from src on a
// miss. Concurrent misses across processes fetch once.
func (c *Cache) Index(ctx context.Context, src Source) (*Index, error) {
	if lexers, _, ok, err := c.Load(ctx); err != nil {
		return nil, err
	} else if ok {
		return NewIndex(lexers), nil
	}

	l, err := lock.Acquire(ctx, c.lockPath, 0)
	if err != nil {
		return nil, fmt.Errorf("lock lexer cache: %w", err)
	}
	defer func() { _ = l.Release() }()

	// Another process may have filled the cache while we waited.
	if lexers, _, ok, err := c.Load(ctx); err != nil {
		return nil, err
	} else if ok {
		return NewIndex(lexers), nil
	}
	return c.fill(ctx, src)
}

// Rebuild unconditionally refetches the lexers from src and stores them.
func (c *Cache) Rebuild(ctx context.Context, src Source) (*Index, error) {
	l, err := lock.Acquire(ctx, c.lockPath, 0)
	if err != nil {
		return nil, fmt.Errorf("lock lexer cache: %w", err)
	}
	defer func() { _ = l.Release() }()
	return c.fill(ctx, src)
}

func (c *Cache) fill(ctx context.Context, src Source) (*Index, error) {
	start := time.Now()
	lexers, err := src.Lexers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch lexers: %w", err)
	}
	if err := c.Store(ctx, lexers); err != nil {
		return nil, err
	}
	c.logger.Info("lexer cache rebuilt", "lexers", len(lexers), "elapsed", time.Since(start))
	return NewIndex(lexers), nil
}
