package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lendledger/internal/platform/db"
)

const tableName = "kv_store"

// Dialect は SQL バックエンドごとの差分（DDL・プレースホルダ・UPSERT 構文）
type Dialect struct {
	Name   string
	Create string
	Get    string
	Upsert string
	Delete string
}

var (
	MySQL = Dialect{
		Name: "mysql",
		Create: `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	k VARCHAR(255) NOT NULL PRIMARY KEY,
	v LONGBLOB NOT NULL,
	updated_at BIGINT NOT NULL
)`,
		Get:    `SELECT v FROM ` + tableName + ` WHERE k = ?`,
		Upsert: `INSERT INTO ` + tableName + ` (k, v, updated_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`,
		Delete: `DELETE FROM ` + tableName + ` WHERE k = ?`,
	}

	Postgres = Dialect{
		Name: "postgres",
		Create: `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	k TEXT PRIMARY KEY,
	v BYTEA NOT NULL,
	updated_at BIGINT NOT NULL
)`,
		Get:    `SELECT v FROM ` + tableName + ` WHERE k = $1`,
		Upsert: `INSERT INTO ` + tableName + ` (k, v, updated_at) VALUES ($1, $2, $3) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updated_at = EXCLUDED.updated_at`,
		Delete: `DELETE FROM ` + tableName + ` WHERE k = $1`,
	}

	SQLite = Dialect{
		Name: "sqlite",
		Create: `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`,
		Get:    `SELECT v FROM ` + tableName + ` WHERE k = ?`,
		Upsert: `INSERT INTO ` + tableName + ` (k, v, updated_at) VALUES (?, ?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		Delete: `DELETE FROM ` + tableName + ` WHERE k = ?`,
	}
)

type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLStore はテーブルを用意してストアを返す。db の Close は SQLStore.Close が行う。
func NewSQLStore(ctx context.Context, sqlDB *sql.DB, d Dialect) (*SQLStore, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if _, err := sqlDB.ExecContext(ctx, d.Create); err != nil {
		return nil, fmt.Errorf("ensure %s table (%s): %w", tableName, d.Name, err)
	}
	return &SQLStore{db: sqlDB, dialect: d, now: time.Now}, nil
}

// OpenSQLite は modernc.org/sqlite でファイル（または ":memory:"）を開く
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// ":memory:" は接続ごとに別DBになるので1本に絞る
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s, err := NewSQLStore(ctx, sqlDB, SQLite)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, key, value, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Delete, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Apply(ctx context.Context, b *Batch) error {
	ts := s.now().UnixMilli()
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		for _, o := range b.ops {
			switch o.kind {
			case opSet:
				if _, err := tx.ExecContext(ctx, s.dialect.Upsert, o.key, o.value, ts); err != nil {
					return fmt.Errorf("kv batch set %q: %w", o.key, err)
				}
			case opDelete:
				if _, err := tx.ExecContext(ctx, s.dialect.Delete, o.key); err != nil {
					return fmt.Errorf("kv batch delete %q: %w", o.key, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
