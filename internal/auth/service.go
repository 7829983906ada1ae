package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccountStore is the persistence contract the authentication flow consumes.
// The pgx Repository implements it; tests substitute an in-memory fake.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByName(ctx context.Context, firstName, lastName string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	UpsertAdmin(ctx context.Context, email, passwordHash string) error
}

// Service orchestrates the authentication flow. Ordering inside Login is a
// security requirement: the rate limiter must pass before the expensive
// credential comparison begins.
type Service struct {
	store   AccountStore
	tokens  *TokenIssuer
	limiter *RateLimiter
	lockout *LockoutTracker
}

func NewService(store AccountStore, tokens *TokenIssuer, limiter *RateLimiter, lockout *LockoutTracker) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		lockout: lockout,
	}
}

type RegisterInput struct {
	FirstName   string
	LastName    string
	Email       string
	Password    string
	DateOfBirth time.Time
	Level       string
}

type LoginInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

func (in LoginInput) identifier() string {
	if in.Email != "" {
		return strings.ToLower(strings.TrimSpace(in.Email))
	}
	return strings.ToLower(strings.TrimSpace(in.FirstName) + " " + strings.TrimSpace(in.LastName))
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Account, error) {
	hash, err := HashPassword(input.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	account := Account{
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: hash,
		Role:         RoleStudent,
		DateOfBirth:  input.DateOfBirth,
		Level:        strings.TrimSpace(input.Level),
	}

	created, err := s.store.Create(ctx, account)
	if err != nil {
		return Account{}, err
	}

	return created, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (Account, TokenPair, error) {
	if err := s.limiter.Allow(ctx, AccountKey("login", input.identifier())); err != nil {
		return Account{}, TokenPair{}, err
	}

	account, err := s.lookup(ctx, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// unknown account burns a full-cost comparison so the response
			// time matches the wrong-password path
			BurnVerification(input.Password)
			return Account{}, TokenPair{}, ErrInvalidCredentials
		}
		return Account{}, TokenPair{}, err
	}

	if err := s.lockout.Check(account); err != nil {
		return Account{}, TokenPair{}, err
	}

	if !VerifyPassword(input.Password, account.PasswordHash) {
		return Account{}, TokenPair{}, s.lockout.RecordFailure(ctx, account.ID)
	}

	if err := s.lockout.Reset(ctx, account.ID); err != nil {
		return Account{}, TokenPair{}, err
	}

	pair, err := s.issuePair(account)
	if err != nil {
		return Account{}, TokenPair{}, err
	}

	return account, pair, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is not rotated; it stays valid until natural expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Account, string, time.Time, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		// an expired refresh token has no further recovery path
		return Account{}, "", time.Time{}, ErrInvalidToken
	}

	account, err := s.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, "", time.Time{}, ErrInvalidToken
		}
		return Account{}, "", time.Time{}, err
	}

	access, expiresAt, err := s.tokens.IssueAccess(account.ID, account.Email, account.Role)
	if err != nil {
		return Account{}, "", time.Time{}, err
	}

	return account, access, expiresAt, nil
}

// BootstrapAdmin provisions the admin account from environment configuration.
// Both values or neither must be set.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return s.store.UpsertAdmin(ctx, email, hash)
}

func (s *Service) lookup(ctx context.Context, input LoginInput) (Account, error) {
	if input.Email != "" {
		return s.store.GetByEmail(ctx, strings.TrimSpace(input.Email))
	}
	return s.store.GetByName(ctx, strings.TrimSpace(input.FirstName), strings.TrimSpace(input.LastName))
}

func (s *Service) issuePair(account Account) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(account.ID, account.Email, account.Role)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, refreshExp, err := s.tokens.IssueRefresh(account.ID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
