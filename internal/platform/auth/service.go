package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrInvalidInput  = errors.New("invalid input")
)

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store AccountStore, secret []byte, ttl time.Duration) *Service {
	return &Service{store: store, secret: secret, ttl: ttl, now: time.Now}
}

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, id, password, role string) error
	Delete(ctx context.Context, id string) error
	ChangeID(ctx context.Context, oldID, newID string) error
}

// RequireAuth に渡す鍵
func (s *Service) JWTSecret() []byte {
	return s.secret
}

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrAuthFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}

	return s.IssueToken(acct.ID, acct.Role)
}

// IssueToken は HS256 の JWT を発行する（sub / role / exp）
func (s *Service) IssueToken(id, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id,
		"role": role,
		"exp":  s.now().Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, id, password, role string) error {
	id = strings.TrimSpace(id)
	if id == "" || password == "" {
		return ErrInvalidInput
	}
	if role != RoleAdmin && role != RoleUser {
		return ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.store.Create(ctx, &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	})
}

// EnsureAdmin は起動時の初期 admin 作成。既にあれば何もしない
func (s *Service) EnsureAdmin(ctx context.Context, id, password string) (bool, error) {
	if id == "" || password == "" {
		return false, nil
	}
	err := s.Register(ctx, id, password, RoleAdmin)
	if errors.Is(err, ErrAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ChangeID(ctx context.Context, oldID, newID string) error {
	newID = strings.TrimSpace(newID)
	if newID == "" {
		return ErrInvalidInput
	}
	updated, err := s.store.UpdateID(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}
