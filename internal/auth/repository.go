package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const accountColumns = `
	id, first_name, last_name, email, password_hash, role,
	date_of_birth, level, failed_attempts, locked_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanAccount(row rowScanner) (Account, error) {
	var account Account
	var lockedUntil sql.NullTime

	err := row.Scan(
		&account.ID, &account.FirstName, &account.LastName, &account.Email,
		&account.PasswordHash, &account.Role, &account.DateOfBirth,
		&account.Level, &account.FailedAttempts, &lockedUntil,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		account.LockedUntil = &value
	}

	return account, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, strings.ToLower(email))

	account, err := r.scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by email: %w", err)
	}

	return account, nil
}

// GetByName resolves a name-based login. Names are not unique; when several
// accounts share one the lookup reports not-found rather than guessing,
// which the caller surfaces as invalid credentials.
func (r *Repository) GetByName(ctx context.Context, firstName, lastName string) (Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
		LIMIT 2
	`, firstName, lastName)
	if err != nil {
		return Account{}, fmt.Errorf("query account by name: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return Account{}, fmt.Errorf("query account by name: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return Account{}, fmt.Errorf("query account by name: %w", err)
	}
	if len(accounts) != 1 {
		return Account{}, sql.ErrNoRows
	}

	return accounts[0], nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)

	account, err := r.scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account by id: %w", err)
	}

	return account, nil
}

// AccountByID satisfies the middleware's AccountSource.
func (r *Repository) AccountByID(ctx context.Context, id string) (Account, error) {
	return r.GetByID(ctx, id)
}

func (r *Repository) Create(ctx context.Context, account Account) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	now := time.Now().UTC()
	account.ID = id.String()
	account.Email = strings.ToLower(account.Email)
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, first_name, last_name, email, password_hash, role,
			date_of_birth, level, failed_attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
	`, account.ID, account.FirstName, account.LastName, account.Email,
		account.PasswordHash, account.Role, account.DateOfBirth, account.Level, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, ErrEmailTaken
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return account, nil
}

// RecordFailure increments the account's failure counter under a row lock so
// concurrent failures for the same account serialize and none is lost. A lock
// whose deadline passed is cleared here before counting (lazy expiry).
func (r *Repository) RecordFailure(ctx context.Context, accountID string, threshold int, lockFor time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin failure tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&failed, &lockedUntil)
	if err != nil {
		return nil, fmt.Errorf("lock account row: %w", err)
	}

	if lockedUntil.Valid {
		if now.Before(lockedUntil.Time) {
			until := lockedUntil.Time.UTC()
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit held-lock tx: %w", err)
			}
			return &until, nil
		}
		// lock elapsed: this attempt starts a fresh count
		failed = 0
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= threshold {
		until := now.UTC().Add(lockFor)
		nextLock = &until
		nextLockValue = until
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, accountID, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("update failure counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failure tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ClearFailures(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear failure counter: %w", err)
	}

	return nil
}

// UpsertAdmin provisions the single admin account described by environment
// configuration at startup.
func (r *Repository) UpsertAdmin(ctx context.Context, email, passwordHash string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate admin id: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, first_name, last_name, email, password_hash, role,
			date_of_birth, level, failed_attempts, created_at, updated_at
		)
		VALUES ($1, 'Platform', 'Admin', $2, $3, 'admin', '1970-01-01', 'staff', 0, $4, $4)
		ON CONFLICT (email)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'admin', updated_at = EXCLUDED.updated_at
	`, id.String(), strings.ToLower(email), passwordHash, now)
	if err != nil {
		return fmt.Errorf("upsert admin account: %w", err)
	}

	return nil
}

// ClearExpiredLockouts normalizes accounts whose lock deadline has passed.
// Expiry is lazy at login time; this keeps reporting queries honest and is
// driven by the maintenance endpoint.
func (r *Repository) ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM accounts
			WHERE locked_until IS NOT NULL AND locked_until < $1
			ORDER BY locked_until ASC
			LIMIT $2
		)
		UPDATE accounts a
		SET failed_attempts = 0, locked_until = NULL, updated_at = $1
		FROM expired
		WHERE a.id = expired.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired lockouts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired lockouts rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]Account, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, err := r.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}
