package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"lendledger/internal/platform/kv"
)

const accountKeyPrefix = "account."

type Account struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	IsDisabled   bool      `json:"is_disabled"`
	CreatedAt    time.Time `json:"created_at"`
}

type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id string) (int64, error)
	UpdateID(ctx context.Context, oldID, newID string) (int64, error)
}

// Store はアカウントを account.<id> ドキュメントとして kv に置く。
// kv に CAS が無いので、存在確認と書き込みは mu で直列化する。
type Store struct {
	mu sync.Mutex
	kv kv.Store
}

func NewStore(s kv.Store) AccountStore {
	return &Store{kv: s}
}

func accountKey(id string) string { return accountKeyPrefix + id }

// 見つからなければ nil, nil
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	raw, err := s.kv.Get(ctx, accountKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}
	buf, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, accountKey(a.ID), buf)
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.GetByID(ctx, id)
	if err != nil || exists == nil {
		return 0, err
	}
	if err := s.kv.Delete(ctx, accountKey(id)); err != nil {
		return 0, err
	}
	return 1, nil
}

// UpdateID は PK 変更。新旧の書き換えは1バッチ
func (s *Store) UpdateID(ctx context.Context, oldID, newID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.GetByID(ctx, oldID)
	if err != nil || a == nil {
		return 0, err
	}
	taken, err := s.GetByID(ctx, newID)
	if err != nil {
		return 0, err
	}
	if taken != nil {
		return 0, ErrAlreadyExists
	}

	a.ID = newID
	buf, err := json.Marshal(a)
	if err != nil {
		return 0, err
	}
	b := kv.NewBatch()
	b.Set(accountKey(newID), buf)
	b.Delete(accountKey(oldID))
	if err := s.kv.Apply(ctx, b); err != nil {
		return 0, err
	}
	return 1, nil
}
