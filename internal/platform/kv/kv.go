// Package kv は台帳の永続化に使う汎用キー・バリューストアを提供する。
// バックエンドは memory / sql(mysql, postgres, sqlite) / pebble / redis。
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Apply はバッチ内の全操作を一括で反映する（全部成功か全部失敗）
	Apply(ctx context.Context, b *Batch) error
	Close() error
}

type opKind int

const (
	opSet opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	key   string
	value []byte
}

// Batch は Apply に渡す書き込みの集まり。追加順に適用される。
type Batch struct {
	ops []op
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Set(key string, value []byte) {
	b.ops = append(b.ops, op{kind: opSet, key: key, value: value})
}

func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, op{kind: opDelete, key: key})
}

func (b *Batch) Len() int { return len(b.ops) }

// prefixed は全キーに名前空間を付ける
type prefixed struct {
	Store
	prefix string
}

func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.Store.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.Store.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Apply(ctx context.Context, b *Batch) error {
	nb := &Batch{ops: make([]op, len(b.ops))}
	for i, o := range b.ops {
		o.key = p.prefix + o.key
		nb.ops[i] = o
	}
	return p.Store.Apply(ctx, nb)
}
