package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client *redis.Client
}

func NewRedis(addr string, dbIndex int) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIndex,
	})
	return &Redis{client: rdb}
}

func NewRedisFromClient(c *redis.Client) *Redis {
	return &Redis{client: c}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

// Apply は MULTI/EXEC でまとめて送る
func (r *Redis) Apply(ctx context.Context, b *Batch) error {
	pipe := r.client.TxPipeline()
	for _, o := range b.ops {
		switch o.kind {
		case opSet:
			pipe.Set(ctx, o.key, o.value, 0)
		case opDelete:
			pipe.Del(ctx, o.key)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kv batch exec: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
