package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble は組み込みの LSM ストア。単一プロセス運用向け。
type Pebble struct {
	db *pebble.DB
}

func OpenPebble(dir string, opts *pebble.Options) (*Pebble, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	pdb, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &Pebble{db: pdb}, nil
}

func (p *Pebble) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	// val は closer.Close 後に無効になる
	out := clone(val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pebble) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Apply(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for _, o := range b.ops {
		var err error
		switch o.kind {
		case opSet:
			err = batch.Set([]byte(o.key), o.value, nil)
		case opDelete:
			err = batch.Delete([]byte(o.key), nil)
		}
		if err != nil {
			return fmt.Errorf("kv batch %q: %w", o.key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("kv batch commit: %w", err)
	}
	return nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
