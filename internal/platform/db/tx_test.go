package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openMem(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec(`CREATE TABLE t (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)
	return conn
}

func count(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	return n
}

func insert(ctx context.Context, tx DBTX) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO t (k) VALUES ('a')`)
	return err
}

func TestRunInTxCommits(t *testing.T) {
	conn := openMem(t)
	require.NoError(t, RunInTx(context.Background(), conn, nil, insert))
	assert.Equal(t, 1, count(t, conn))
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	conn := openMem(t)
	boom := errors.New("boom")
	err := RunInTx(context.Background(), conn, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert(ctx, tx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, conn))
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	conn := openMem(t)
	assert.Panics(t, func() {
		_ = RunInTx(context.Background(), conn, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, insert(ctx, tx))
			panic("boom")
		})
	})
	assert.Equal(t, 0, count(t, conn))
}
