// Package creds provides username/password authentication: bcrypt password
// hashing and signed, time-bounded session tokens.
package creds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"agenciacrm/internal/auth"
	"agenciacrm/internal/store"
	"agenciacrm/internal/util"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// UserStore defines the storage interface for authentication
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserEmail(ctx context.Context, id string, email *string) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
}

// Session is an issued credential: the signed token plus the metadata the
// caller needs to set the cookie and register the JTI.
type Session struct {
	Token     string
	JTI       string
	Username  string
	ExpiresAt time.Time
}

type Service struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
}

func NewService(store UserStore, secret string, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// HashPassword produces a salted bcrypt hash. Two calls over the same
// plaintext yield different hashes.
func (s *Service) HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches hash. It never errors on
// a mismatch, it just answers no.
func (s *Service) VerifyPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// CreateToken issues a signed session token for subject (the username).
func (s *Service) CreateToken(subject string) (Session, error) {
	jti := util.NewID("")
	expiresAt := time.Now().Add(s.ttl)
	token, err := auth.IssueToken(s.secret, auth.Claims{
		Sub: subject,
		JTI: jti,
		Exp: expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, JTI: jti, Username: subject, ExpiresAt: expiresAt}, nil
}

// DecodeToken verifies the signature and expiry and returns the claims.
// Failures surface as auth.ErrInvalidToken / auth.ErrExpiredToken.
func (s *Service) DecodeToken(token string) (auth.Claims, error) {
	return auth.ParseToken(s.secret, token)
}

// Register creates a new account. Duplicate usernames or emails surface as
// store.ErrConflict for the registration form to render inline.
func (s *Service) Register(ctx context.Context, username, email, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, errors.New("username and password are required")
	}
	if len(password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return store.User{}, fmt.Errorf("username taken: %w", store.ErrConflict)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if email = strings.TrimSpace(email); email != "" {
		user.Email = &email
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

// Login verifies the credentials and issues a session. Unknown usernames,
// wrong passwords and deactivated accounts all answer ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, Session, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return store.User{}, Session{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return store.User{}, Session{}, ErrInvalidCredentials
	}
	if !s.VerifyPassword(password, user.PasswordHash) {
		return store.User{}, Session{}, ErrInvalidCredentials
	}

	session, err := s.CreateToken(user.Username)
	if err != nil {
		return store.User{}, Session{}, err
	}
	return user, session, nil
}

// UpdateProfile changes the email and/or password of user. Empty fields are
// left untouched.
func (s *Service) UpdateProfile(ctx context.Context, user store.User, email, password string) error {
	if email = strings.TrimSpace(email); email != "" {
		if err := s.store.UpdateUserEmail(ctx, user.ID, &email); err != nil {
			return err
		}
	}
	if password != "" {
		if len(password) < 8 {
			return errors.New("password must be at least 8 characters")
		}
		hash, err := s.HashPassword(password)
		if err != nil {
			return err
		}
		if err := s.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return err
		}
	}
	return nil
}
