package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ShiroSan123/otp-valhalla/internal/identity/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/phone"
)

const uniqueViolation = "23505"

const findByPhoneSQL = `SELECT id, phone, phone_confirmed_at, created_at
FROM identity_users
WHERE phone = $1 OR regexp_replace(phone, '\D', '', 'g') = $2
ORDER BY created_at
LIMIT 1`

const insertUserSQL = `INSERT INTO identity_users (id, phone, phone_confirmed_at, created_at)
VALUES ($1, $2, $3, $4)`

// PostgresDirectory keeps identities in the identity_users table. phone is UNIQUE.
type PostgresDirectory struct {
	db   *sql.DB
	nowF func() time.Time
}

// NewPostgresDirectory returns a directory that uses the given db for persistence.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db, nowF: func() time.Time { return time.Now().UTC() }}
}

// FindByPhone returns the user for p, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresDirectory) FindByPhone(ctx context.Context, p string) (*domain.User, error) {
	var (
		u           domain.User
		confirmedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, findByPhoneSQL, p, phone.Digits(p)).
		Scan(&u.ID, &u.Phone, &confirmedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		u.PhoneConfirmedAt = &t
	}
	return &u, nil
}

// CreateWithPhone inserts a confirmed user. A unique violation on phone is ErrPhoneExists.
func (r *PostgresDirectory) CreateWithPhone(ctx context.Context, p string) (*domain.User, error) {
	now := r.nowF()
	u := &domain.User{
		ID:               uuid.New().String(),
		Phone:            p,
		PhoneConfirmedAt: &now,
		CreatedAt:        now,
	}
	if _, err := r.db.ExecContext(ctx, insertUserSQL, u.ID, u.Phone, now, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrPhoneExists
		}
		return nil, err
	}
	return u, nil
}
