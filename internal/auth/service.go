package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/folio-chat/folio/internal/log"
)

// UserStore is the account persistence the service needs. *Store
// satisfies it.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
}

// Service implements register and login on top of a user store and a
// token manager.
type Service struct {
	users      UserStore
	tokens     *TokenManager
	bcryptCost int
	logger     log.Logger
}

// NewService wires the auth service.
func NewService(users UserStore, tokens *TokenManager, bcryptCost int, logger log.Logger) *Service {
	return &Service{
		users:      users,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger.With("component", "auth"),
	}
}

// Tokens exposes the token manager for request middleware.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, email, password string) (User, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, "", err
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return User{}, "", err
	}

	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		return User{}, "", err
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return User{}, "", fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login checks credentials and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (User, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, "", ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return User{}, "", err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return User{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return User{}, "", fmt.Errorf("issue token: %w", err)
	}

	s.logger.Debug("user logged in", "user_id", user.ID)
	return user, token, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}
