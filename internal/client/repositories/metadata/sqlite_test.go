package metadata

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/client/migrations"
	"github.com/dmitrijs2005/mediasync/internal/dbx"

	_ "modernc.org/sqlite"
)

func newRepo(t *testing.T) (*SQLRepository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	raw, err := migrations.Migrations.ReadFile("sqlite/00002_metadata.sql")
	require.NoError(t, err)
	up, _, _ := strings.Cut(string(raw), "-- +goose Down")
	_, err = db.Exec(strings.TrimPrefix(up, "-- +goose Up"))
	require.NoError(t, err)

	return NewSQLiteRepository(db), db
}

func TestSQLRepository_SetGetOverwrite(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	v, err := r.Get(ctx, "sync.last.blog-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, r.Set(ctx, "sync.last.blog-1", []byte("2026-10-17T10:00:00Z")))
	require.NoError(t, r.Set(ctx, "sync.last.blog-1", []byte("2026-10-17T11:00:00Z")))

	v, err = r.Get(ctx, "sync.last.blog-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17T11:00:00Z", string(v))
}

func TestSQLRepository_List(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, r.Set(ctx, "sync.last.a", []byte("1")))
	require.NoError(t, r.Set(ctx, "sync.last.b", []byte("2")))

	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"sync.last.a": []byte("1"),
		"sync.last.b": []byte("2"),
	}, all)
}

func TestSQLRepository_WithinTransaction(t *testing.T) {
	_, db := newRepo(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return NewSQLiteRepository(tx).Set(ctx, "k", []byte("v"))
	})
	require.NoError(t, err)

	v, err := NewSQLiteRepository(db).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestSQLRepository_ClosedDB(t *testing.T) {
	r, db := newRepo(t)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	require.ErrorContains(t, err, "failed to get metadata[k]")

	err = r.Set(ctx, "k", []byte("v"))
	require.ErrorContains(t, err, "failed to set metadata[k]")

	_, err = r.List(ctx)
	require.ErrorContains(t, err, "failed to list metadata")
}
