package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/ShiroSan123/otp-valhalla/internal/audit/domain"
)

const sessionsTable = "otp_sessions"

// TableClient opens query builders on PostgREST tables. Both *supabase.Client and *postgrest.Client implement it.
type TableClient interface {
	From(table string) *postgrest.QueryBuilder
}

// sessionRow is the otp_sessions row as PostgREST sends and receives it.
type sessionRow struct {
	ID         string          `json:"id"`
	Phone      string          `json:"phone"`
	Provider   string          `json:"provider"`
	Status     string          `json:"status"`
	Secret     *string         `json:"secret"`
	QRPayload  *string         `json:"qr_payload"`
	QRImage    *string         `json:"qr_image"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	VerifiedAt *time.Time      `json:"verified_at"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// SupabaseRepository stores records through the Supabase REST API using the service role key.
// The client calls are not context-aware; ctx is only checked before each request.
type SupabaseRepository struct {
	client TableClient
}

// NewSupabaseRepository returns a repository over client.
func NewSupabaseRepository(client TableClient) *SupabaseRepository {
	return &SupabaseRepository{client: client}
}

// NewSupabaseTableClient builds a Supabase client for url authorized with the service role key.
func NewSupabaseTableClient(url, serviceRoleKey string) (TableClient, error) {
	client, err := supabase.NewClient(url, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: %w", err)
	}
	return client, nil
}

func (r *SupabaseRepository) Upsert(ctx context.Context, rec *domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := r.client.From(sessionsTable).
		Upsert(toRow(rec), "id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: upsert session %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SupabaseRepository) UpdateStatus(ctx context.Context, id, status string, verifiedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	patch := map[string]any{"status": status, "verified_at": verifiedAt}
	_, _, err := r.client.From(sessionsTable).
		Update(patch, "minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: update session %s: %w", id, err)
	}
	return nil
}

func (r *SupabaseRepository) ListRecent(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []sessionRow
	_, err := r.client.From(sessionsTable).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(ClampLimit(limit), "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: list sessions: %w", err)
	}
	out := make([]*domain.SessionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func toRow(rec *domain.SessionRecord) sessionRow {
	return sessionRow{
		ID:         rec.ID,
		Phone:      rec.Phone,
		Provider:   rec.Provider,
		Status:     rec.Status,
		Secret:     rec.Secret,
		QRPayload:  rec.QRPayload,
		QRImage:    rec.QRImage,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		VerifiedAt: rec.VerifiedAt,
		Metadata:   rec.Metadata,
	}
}

func fromRow(row *sessionRow) *domain.SessionRecord {
	rec := &domain.SessionRecord{
		ID:         row.ID,
		Phone:      row.Phone,
		Provider:   row.Provider,
		Status:     row.Status,
		Secret:     row.Secret,
		QRPayload:  row.QRPayload,
		QRImage:    row.QRImage,
		CreatedAt:  row.CreatedAt,
		ExpiresAt:  row.ExpiresAt,
		VerifiedAt: row.VerifiedAt,
	}
	if len(row.Metadata) > 0 && string(row.Metadata) != "null" {
		rec.Metadata = row.Metadata
	}
	return rec
}
