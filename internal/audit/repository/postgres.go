package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
)

const upsertSessionSQL = `INSERT INTO otp_sessions
	(id, phone, provider, status, secret, qr_payload, qr_image, created_at, expires_at, verified_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
	phone = EXCLUDED.phone,
	provider = EXCLUDED.provider,
	status = EXCLUDED.status,
	secret = EXCLUDED.secret,
	qr_payload = EXCLUDED.qr_payload,
	qr_image = EXCLUDED.qr_image,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at,
	verified_at = EXCLUDED.verified_at,
	metadata = EXCLUDED.metadata`

const updateStatusSQL = `UPDATE otp_sessions SET status = $2, verified_at = $3 WHERE id = $1`

const listRecentSQL = `SELECT id, phone, provider, status, secret, qr_payload, qr_image, created_at, expires_at, verified_at, metadata
FROM otp_sessions
ORDER BY created_at DESC
LIMIT $1`

// PostgresRepository stores records in the otp_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.SessionRecord) error {
	var metadata any
	if len(rec.Metadata) > 0 {
		metadata = []byte(rec.Metadata)
	}
	_, err := r.db.ExecContext(ctx, upsertSessionSQL,
		rec.ID, rec.Phone, rec.Provider, rec.Status,
		nullString(rec.Secret), nullString(rec.QRPayload), nullString(rec.QRImage),
		rec.CreatedAt, rec.ExpiresAt, nullTime(rec.VerifiedAt), metadata,
	)
	return err
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string, verifiedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, updateStatusSQL, id, status, nullTime(verifiedAt))
	return err
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, listRecentSQL, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SessionRecord
	for rows.Next() {
		var (
			rec                      domain.SessionRecord
			secret, qrPayload, qrImg sql.NullString
			verifiedAt               sql.NullTime
			metadata                 []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Phone, &rec.Provider, &rec.Status,
			&secret, &qrPayload, &qrImg, &rec.CreatedAt, &rec.ExpiresAt, &verifiedAt, &metadata); err != nil {
			return nil, err
		}
		rec.Secret = stringPtr(secret)
		rec.QRPayload = stringPtr(qrPayload)
		rec.QRImage = stringPtr(qrImg)
		if verifiedAt.Valid {
			t := verifiedAt.Time
			rec.VerifiedAt = &t
		}
		if len(metadata) > 0 {
			rec.Metadata = json.RawMessage(metadata)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
