package kv

import (
	"context"
	"fmt"

	"lendledger/internal/platform/config"
	"lendledger/internal/platform/db"
)

// Open は設定に応じたバックエンドを開く。名前空間は付けないので呼び出し側で WithPrefix すること。
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	st := cfg.Storage
	switch st.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendSQLite:
		return OpenSQLite(ctx, st.Path)
	case config.BackendMySQL:
		conn, err := db.Connect(cfg.DB)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(ctx, conn, MySQL)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		conn, err := db.ConnectPostgres(st.DSN)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(ctx, conn, Postgres)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return s, nil
	case config.BackendPebble:
		return OpenPebble(st.Path, nil)
	case config.BackendRedis:
		r := NewRedis(st.RedisAddr, st.RedisDB)
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("redis ping %s: %w", st.RedisAddr, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", st.Backend)
	}
}
