package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore mirrors the repository contract in memory, including the
// serialized failure counter and lazy lock expiry.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	now      func() time.Time
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]Account),
		now:      time.Now,
	}
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, account := range f.accounts {
		if account.Email == strings.ToLower(email) {
			return account, nil
		}
	}
	return Account{}, sql.ErrNoRows
}

func (f *fakeStore) GetByName(_ context.Context, firstName, lastName string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []Account
	for _, account := range f.accounts {
		if strings.EqualFold(account.FirstName, firstName) && strings.EqualFold(account.LastName, lastName) {
			matches = append(matches, account)
		}
	}
	if len(matches) != 1 {
		return Account{}, sql.ErrNoRows
	}
	return matches[0], nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	account, ok := f.accounts[id]
	if !ok {
		return Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (f *fakeStore) AccountByID(ctx context.Context, id string) (Account, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeStore) Create(_ context.Context, account Account) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.accounts {
		if existing.Email == account.Email {
			return Account{}, ErrEmailTaken
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, err
	}

	now := f.now().UTC()
	account.ID = id.String()
	account.CreatedAt = now
	account.UpdatedAt = now
	f.accounts[account.ID] = account

	return account, nil
}

func (f *fakeStore) UpsertAdmin(ctx context.Context, email, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, account := range f.accounts {
		if account.Email == email {
			account.PasswordHash = passwordHash
			account.Role = RoleAdmin
			f.accounts[id] = account
			return nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	f.accounts[id.String()] = Account{
		ID:           id.String(),
		FirstName:    "Platform",
		LastName:     "Admin",
		Email:        email,
		PasswordHash: passwordHash,
		Role:         RoleAdmin,
		Level:        "staff",
	}

	return nil
}

func (f *fakeStore) RecordFailure(_ context.Context, accountID string, threshold int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	account, ok := f.accounts[accountID]
	if !ok {
		return nil, sql.ErrNoRows
	}

	if account.LockedUntil != nil {
		if now.Before(*account.LockedUntil) {
			until := *account.LockedUntil
			return &until, nil
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}

	account.FailedAttempts++
	var nextLock *time.Time
	if account.FailedAttempts >= threshold {
		until := now.UTC().Add(lockFor)
		nextLock = &until
		account.LockedUntil = &until
	}
	f.accounts[accountID] = account

	return nextLock, nil
}

func (f *fakeStore) ClearFailures(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWith != nil {
		return f.failWith
	}

	account, ok := f.accounts[accountID]
	if !ok {
		return nil
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	f.accounts[accountID] = account

	return nil
}

func (f *fakeStore) seed(account Account) Account {
	f.mu.Lock()
	defer f.mu.Unlock()

	if account.ID == "" {
		id, _ := uuid.NewV7()
		account.ID = id.String()
	}
	account.Email = strings.ToLower(account.Email)
	f.accounts[account.ID] = account

	return account
}

func (f *fakeStore) get(id string) Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}
