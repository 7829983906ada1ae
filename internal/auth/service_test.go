package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumilearn/internal/kvstore"
)

func newTestService(t *testing.T, limiterMax int) (*Service, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	service := NewService(
		store,
		newTestIssuer(t),
		NewRateLimiter(kvstore.NewMemory(), limiterMax, 15*time.Minute, time.Hour),
		NewLockoutTracker(store, 5, 15*time.Minute),
	)
	return service, store
}

func registerTestAccount(t *testing.T, service *Service) Account {
	t.Helper()

	account, err := service.Register(context.Background(), RegisterInput{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "a@test.com",
		Password:    "twelvecharspw",
		DateOfBirth: time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC),
		Level:       "CE2",
	})
	require.NoError(t, err)
	return account
}

func TestRegisterAndLogin(t *testing.T) {
	service, _ := newTestService(t, 100)
	ctx := context.Background()

	account := registerTestAccount(t, service)
	assert.Equal(t, RoleStudent, account.Role)
	assert.Equal(t, "a@test.com", account.Email)
	assert.NotEmpty(t, account.ID)

	loggedIn, pair, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	require.NoError(t, err)
	assert.Equal(t, account.ID, loggedIn.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestLoginByName(t *testing.T) {
	service, _ := newTestService(t, 100)
	registerTestAccount(t, service)

	account, _, err := service.Login(context.Background(), LoginInput{
		FirstName: "ada",
		LastName:  "LOVELACE",
		Password:  "twelvecharspw",
	})
	require.NoError(t, err)
	assert.Equal(t, "a@test.com", account.Email)
}

func TestLoginByAmbiguousName(t *testing.T) {
	service, _ := newTestService(t, 100)
	registerTestAccount(t, service)

	_, err := service.Register(context.Background(), RegisterInput{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "other@test.com",
		Password:    "twelvecharspw",
		DateOfBirth: time.Date(2014, 2, 1, 0, 0, 0, 0, time.UTC),
		Level:       "CM1",
	})
	require.NoError(t, err)

	_, _, err = service.Login(context.Background(), LoginInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "twelvecharspw",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials, "a shared name never resolves to either account")
}

func TestLoginWrongPassword(t *testing.T) {
	service, _ := newTestService(t, 100)
	registerTestAccount(t, service)

	_, _, err := service.Login(context.Background(), LoginInput{Email: "a@test.com", Password: "wrongpassword!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownAccount(t *testing.T) {
	service, _ := newTestService(t, 100)

	_, _, err := service.Login(context.Background(), LoginInput{Email: "ghost@test.com", Password: "twelvecharspw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown accounts look like wrong passwords")
}

func TestLoginRegisterDuplicateEmail(t *testing.T) {
	service, _ := newTestService(t, 100)
	registerTestAccount(t, service)

	_, err := service.Register(context.Background(), RegisterInput{
		FirstName:   "Other",
		LastName:    "Person",
		Email:       "A@TEST.COM",
		Password:    "anotherpassword",
		DateOfBirth: time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC),
		Level:       "CM1",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLockoutScenario(t *testing.T) {
	service, store := newTestService(t, 100)
	ctx := context.Background()

	account := registerTestAccount(t, service)

	for i := 0; i < 5; i++ {
		_, _, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "wrongpassword!"})
		require.Error(t, err)
	}

	// the account is now locked; even the correct password is rejected
	_, _, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	var locked LockedError
	require.ErrorAs(t, err, &locked)

	// lock elapses: correct password succeeds and the counter resets
	past := time.Now().UTC().Add(-time.Second)
	stored := store.get(account.ID)
	stored.LockedUntil = &past
	store.seed(stored)

	_, _, err = service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	require.NoError(t, err)
	assert.Equal(t, 0, store.get(account.ID).FailedAttempts)
	assert.Nil(t, store.get(account.ID).LockedUntil)

	// a single failure afterwards must not re-lock
	_, _, err = service.Login(ctx, LoginInput{Email: "a@test.com", Password: "wrongpassword!"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRateLimitedBeforeCredentials(t *testing.T) {
	service, _ := newTestService(t, 3)
	ctx := context.Background()
	registerTestAccount(t, service)

	for i := 0; i < 3; i++ {
		_, _, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
		require.NoError(t, err)
	}

	_, _, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	var limited RateLimitedError
	require.ErrorAs(t, err, &limited, "the limiter gates even correct credentials")

	// identical outcome for a nonexistent account behind the same identifier class
	_, _, err = service.Login(ctx, LoginInput{Email: "a@test.com", Password: "whatever12345"})
	assert.ErrorAs(t, err, &limited)
}

func TestRefreshIssuesNewAccess(t *testing.T) {
	service, _ := newTestService(t, 100)
	ctx := context.Background()
	account := registerTestAccount(t, service)

	_, pair, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	require.NoError(t, err)

	refreshed, access, expiresAt, err := service.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, refreshed.ID)
	assert.NotEmpty(t, access)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := service.tokens.Verify(access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.Subject)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	service, _ := newTestService(t, 100)
	ctx := context.Background()
	registerTestAccount(t, service)

	_, pair, err := service.Login(ctx, LoginInput{Email: "a@test.com", Password: "twelvecharspw"})
	require.NoError(t, err)

	_, _, _, err = service.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	service, _ := newTestService(t, 100)
	ctx := context.Background()
	account := registerTestAccount(t, service)

	service.tokens.now = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	refresh, _, err := service.tokens.IssueRefresh(account.ID)
	require.NoError(t, err)
	service.tokens.now = time.Now

	_, _, _, err = service.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, ErrInvalidToken, "an expired refresh token has no recovery path")
}

func TestRefreshRejectsUnknownAccount(t *testing.T) {
	service, _ := newTestService(t, 100)

	refresh, _, err := service.tokens.IssueRefresh("no-such-account")
	require.NoError(t, err)

	_, _, _, err = service.Refresh(context.Background(), refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBootstrapAdmin(t *testing.T) {
	service, store := newTestService(t, 100)
	ctx := context.Background()

	require.NoError(t, service.BootstrapAdmin(ctx, "", ""), "absent configuration is a no-op")
	assert.Error(t, service.BootstrapAdmin(ctx, "admin@test.com", ""), "partial configuration is an error")

	require.NoError(t, service.BootstrapAdmin(ctx, "Admin@Test.Com", "adminpassword12"))

	admin, err := store.GetByEmail(ctx, "admin@test.com")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)
	assert.True(t, VerifyPassword("adminpassword12", admin.PasswordHash))
}
