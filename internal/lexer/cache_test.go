package lexer_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hilite/internal/lexer"
	"github.com/mattjoyce/hilite/internal/lexer/mocks"
	"github.com/mattjoyce/hilite/internal/log"
	"github.com/mattjoyce/hilite/internal/storage"
)

func TestMain(m *testing.M) {
	log.SetupWithWriter("ERROR", io.Discard)
	os.Exit(m.Run())
}

var lexers = []lexer.Lexer{
	{Name: "Go", Aliases: []string{"go", "golang"}, Filenames: []string{"*.go"}, Mimetypes: []string{"text/x-gosrc"}},
	{Name: "C", Aliases: []string{"c"}, Filenames: []string{"*.[ch]"}, Mimetypes: []string{"text/x-csrc"}},
}

func openCache(t *testing.T, path, fingerprint string) *lexer.Cache {
	t.Helper()
	c, err := lexer.OpenCache(context.Background(), path, fingerprint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFingerprint(t *testing.T) {
	a := lexer.Fingerprint("python3", "mentos.py", "/opt/pygments")
	assert.Len(t, a, 64)
	assert.Equal(t, a, lexer.Fingerprint("python3", "mentos.py", "/opt/pygments"))
	assert.NotEqual(t, a, lexer.Fingerprint("python3", "mentos.py", "/opt/other"))
	assert.NotEqual(t, lexer.Fingerprint("ab", "c"), lexer.Fingerprint("a", "bc"))
}

func TestCacheIndexFetchesOnceOnMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().Lexers(gomock.Any()).Return(lexers, nil).Times(1)

	c := openCache(t, filepath.Join(t.TempDir(), "lexers.db"), "fp-1")

	idx, err := c.Index(ctx, src)
	require.NoError(t, err)
	got, ok := idx.Find("h")
	require.True(t, ok)
	assert.Equal(t, "C", got.Name)

	// Second lookup is served from SQLite.
	idx, err = c.Index(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	cached, builtAt, ok, err := c.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lexers, cached)
	assert.False(t, builtAt.IsZero())
}

func TestCacheIsKeyedByFingerprint(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lexers.db")

	first := openCache(t, path, "fp-old")
	require.NoError(t, first.Store(ctx, lexers))

	src := mocks.NewMockSource(ctrl)
	src.EXPECT().Lexers(gomock.Any()).Return(lexers[:1], nil)

	second := openCache(t, path, "fp-new")
	idx, err := second.Index(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestCacheRebuildAlwaysFetches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	src := mocks.NewMockSource(ctrl)
	gomock.InOrder(
		src.EXPECT().Lexers(gomock.Any()).Return(lexers[:1], nil),
		src.EXPECT().Lexers(gomock.Any()).Return(lexers, nil),
	)

	c := openCache(t, filepath.Join(t.TempDir(), "lexers.db"), "fp")
	_, err := c.Rebuild(ctx, src)
	require.NoError(t, err)
	idx, err := c.Rebuild(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestCacheSourceFailureIsNotStored(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	boom := errors.New("worker unavailable")
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().Lexers(gomock.Any()).Return(nil, boom)

	c := openCache(t, filepath.Join(t.TempDir(), "lexers.db"), "fp")
	_, err := c.Index(ctx, src)
	require.ErrorIs(t, err, boom)

	_, _, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheLoadRejectsCorruptBuiltAt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lexers.db")
	c := openCache(t, path, "fp")
	require.NoError(t, c.Store(ctx, lexers))

	db, err := storage.OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE lexer_cache SET built_at = 'yesterday' WHERE fingerprint = 'fp';`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, _, ok, err := c.Load(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hilite cache build")
	assert.False(t, ok)

	// A rebuild overwrites the broken row.
	src := mocks.NewMockSource(ctrl)
	src.EXPECT().Lexers(gomock.Any()).Return(lexers, nil)
	_, err = c.Rebuild(ctx, src)
	require.NoError(t, err)

	_, builtAt, ok, err := c.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, builtAt.IsZero())
}

func TestOpenCacheRequiresFingerprint(t *testing.T) {
	_, err := lexer.OpenCache(context.Background(), filepath.Join(t.TempDir(), "lexers.db"), "")
	assert.Error(t, err)
}
