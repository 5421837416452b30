package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"kalyn/backend/internal/domain"
	"kalyn/backend/internal/store"
)

// fakeUserStore is a minimal UserStore for auth unit tests.
type fakeUserStore struct {
	users map[string]domain.UserAccount
}

func newFakeUserStore(users ...domain.UserAccount) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]domain.UserAccount)}
	for _, user := range users {
		s.users[user.Username] = user
	}
	return s
}

func (s *fakeUserStore) CreateUser(_ context.Context, user domain.UserAccount) error {
	if _, ok := s.users[user.Username]; ok {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *fakeUserStore) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *fakeUserStore) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	return result, nil
}

func (s *fakeUserStore) UpdateUserPassword(_ context.Context, username string, password string) error {
	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func TestLoginUpgradesLegacyPlainTextPassword(t *testing.T) {
	users := newFakeUserStore(domain.UserAccount{
		Username: "legacy", Password: "oldpass", Role: "staff", Active: true,
	})
	auth := NewAuthManager(testSecret, time.Hour, users)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "Legacy", Password: "oldpass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "staff" {
		t.Fatalf("expected staff role, got %s", resp.Role)
	}

	stored := users.users["legacy"].Password
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected password upgraded to bcrypt, got %q", stored)
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "legacy", Password: "oldpass"}); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestLoginRejectsWrongLegacyPassword(t *testing.T) {
	users := newFakeUserStore(domain.UserAccount{
		Username: "legacy", Password: "oldpass", Role: "staff", Active: true,
	})
	auth := NewAuthManager(testSecret, time.Hour, users)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "legacy", Password: "oldpas"}); err == nil {
		t.Fatalf("expected wrong legacy password to be rejected")
	}
	if stored := users.users["legacy"].Password; stored != "oldpass" {
		t.Fatalf("failed login must not rewrite the credential, got %q", stored)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := newFakeUserStore(domain.UserAccount{
		Username: "gone", Password: hash, Role: "staff", Active: false,
	})
	auth := NewAuthManager(testSecret, time.Hour, users)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "gone", Password: "secret1"}); err == nil {
		t.Fatalf("expected inactive account rejection")
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	hash, err := hashPassword("secret1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := newFakeUserStore(domain.UserAccount{
		Username: "admin", Password: hash, Role: "admin", Active: true,
	})
	auth := NewAuthManager(testSecret, time.Hour, users)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("a-completely-different-secret-value", time.Hour, users)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token to fail under another secret")
	}
}
