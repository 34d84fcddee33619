package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/credvault/credvault/internal/common"
	"github.com/credvault/credvault/internal/models"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

const userColumns = `id, first_name, middle_name, last_name, email, phone_number, dob,
	password_hash, is_deleted, created_by, created_at, updated_by, updated_at`

type UserRepository struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewUserRepository(db *sql.DB, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the user and patches the self-referential created_by field
// inside a single transaction. The intermediate state is never visible to
// other transactions; on any failure the whole insert rolls back.
//
// The partial unique index on lower(email) is the authority on uniqueness:
// a concurrent signup that slips past the EmailExists pre-check still fails
// here with ErrDuplicateEmail.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		query := `INSERT INTO users (first_name, middle_name, last_name, email, phone_number, dob, password_hash, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, '')
			RETURNING id, created_at`

		err := tx.QueryRowContext(ctx, query,
			user.FirstName, user.MiddleName, user.LastName,
			models.NormalizeEmail(user.Email), user.PhoneNumber,
			user.DOB, user.PasswordHash,
		).Scan(&user.ID, &user.CreatedAt)
		if err != nil {
			return err
		}

		// created_by references the id the store just generated.
		_, err = tx.ExecContext(ctx, `UPDATE users SET created_by = id::text WHERE id = $1`, user.ID)
		return err
	})

	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrDuplicateEmail
		}
		r.logger.WithError(err).Error("Failed to create user")
		return nil, fmt.Errorf("%w: create user: %v", common.ErrStorage, err)
	}

	user.CreatedBy = fmt.Sprintf("%d", user.ID)
	return user, nil
}

// GetByEmail returns the live user for the email, or ErrNotFound. Soft-deleted
// rows are invisible.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = $1 AND NOT is_deleted`
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

// GetByID returns the live user for the id, or ErrNotFound.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND NOT is_deleted`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.FirstName, &user.MiddleName, &user.LastName,
		&user.Email, &user.PhoneNumber, &user.DOB, &user.PasswordHash,
		&user.IsDeleted, &user.CreatedBy, &user.CreatedAt,
		&user.UpdatedBy, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		r.logger.WithError(err).Error("Failed to query user")
		return nil, fmt.Errorf("%w: get user: %v", common.ErrStorage, err)
	}
	return user, nil
}

// EmailExists reports whether a live user already holds the email. It is an
// advisory pre-check only; Create re-validates against the unique index.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = $1 AND NOT is_deleted)`
	err := r.db.QueryRowContext(ctx, query, models.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		r.logger.WithError(err).Error("Failed to check email existence")
		return false, fmt.Errorf("%w: email exists: %v", common.ErrStorage, err)
	}
	return exists, nil
}

// UpdatePassword replaces the password hash for the live user with the email.
// The update runs in its own transaction and rolls back when no row matches.
func (r *UserRepository) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	err := WithTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		query := `UPDATE users
			SET password_hash = $2, updated_by = id::text, updated_at = now()
			WHERE lower(email) = $1 AND NOT is_deleted`

		res, err := tx.ExecContext(ctx, query, models.NormalizeEmail(email), passwordHash)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return common.ErrNotFound
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNotFound
		}
		r.logger.WithError(err).Error("Failed to update password")
		return fmt.Errorf("%w: update password: %v", common.ErrStorage, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
