package migrations

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	dbmigrations "github.com/coachpo/marketmaker/db/migrations"
)

func TestResolveDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "db", "migrations")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	plain := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0o600))

	resolved, err := resolveDir(nested + string(filepath.Separator) + ".")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(resolved), "resolved %s", resolved)
	require.Equal(t, filepath.Clean(nested), resolved)

	_, err = resolveDir(filepath.Join(root, "missing"))
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = resolveDir(plain)
	require.ErrorIs(t, err, errNotDirectory)

	_, err = resolveDir("   ")
	require.Error(t, err)
}

func TestFileURL(t *testing.T) {
	require.Equal(t, "file:///tmp/migrations", fileURL("/tmp/migrations"))
	// Drive-letter paths gain a leading slash so the URL stays absolute.
	require.Equal(t, "file:///C:/tmp/migrations", fileURL("C:/tmp/migrations"))
}

func TestPathIsValidatedBeforeConnecting(t *testing.T) {
	ctx := context.Background()
	require.ErrorIs(t, Apply(ctx, "postgresql://invalid", "does-not-exist", nil), fs.ErrNotExist)
	require.ErrorIs(t, Rollback(ctx, "postgresql://invalid", "still-missing", 1, nil), fs.ErrNotExist)
}

func TestRollbackRequiresSteps(t *testing.T) {
	err := Rollback(context.Background(), "postgresql://invalid", Embedded, 0, nil)
	require.ErrorContains(t, err, "steps")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(dbmigrations.Files, ".")
	require.NoError(t, err)
	up, down := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			down++
		}
	}
	require.NotZero(t, up)
	require.Equal(t, up, down)
}

func TestOpenSourceEmbedded(t *testing.T) {
	name, src, err := openSource(Embedded)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, "iofs", name)

	first, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	up, ident, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	require.Equal(t, "create_orders", ident)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	require.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS orders")

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	require.NoError(t, down.Close())
}

func TestOpenSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_add_notes.up.sql"), []byte("ALTER TABLE orders ADD COLUMN notes TEXT;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_add_notes.down.sql"), []byte("ALTER TABLE orders DROP COLUMN notes;"), 0o600))

	name, src, err := openSource(dir)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, "file", name)

	first, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 7, first)
	_, err = src.Next(first)
	require.ErrorIs(t, err, fs.ErrNotExist)
}
