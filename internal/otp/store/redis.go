package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

const keyPrefix = "otp:session:"

// RedisStore keeps sessions as JSON values whose key TTL outlives ExpiresAt by a grace period,
// so lazy expiry is still observed by the verifier before Redis drops the key.
type RedisStore struct {
	client *redis.Client
	grace  time.Duration
	nowF   func() time.Time
}

// NewRedisStore returns a Store over client. grace is added to each key's TTL.
func NewRedisStore(client *redis.Client, grace time.Duration) *RedisStore {
	return &RedisStore{client: client, grace: grace, nowF: time.Now}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

type redisSession struct {
	ID         string             `json:"id"`
	Phone      string             `json:"phone"`
	Provider   domain.Provider    `json:"provider"`
	SecretHash string             `json:"secretHash,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	Status     domain.Status      `json:"status"`
	VerifiedAt *time.Time         `json:"verifiedAt,omitempty"`
	QR         *domain.QRArtifact `json:"qr,omitempty"`
	Metadata   json.RawMessage    `json:"metadata,omitempty"`
}

func toRedis(s *domain.Session) redisSession {
	return redisSession{
		ID: s.ID, Phone: s.Phone, Provider: s.Provider, SecretHash: s.SecretHash,
		CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt, Status: s.Status,
		VerifiedAt: s.VerifiedAt, QR: s.QR, Metadata: s.Metadata,
	}
}

func (r redisSession) toDomain() *domain.Session {
	return &domain.Session{
		ID: r.ID, Phone: r.Phone, Provider: r.Provider, SecretHash: r.SecretHash,
		CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt, Status: r.Status,
		VerifiedAt: r.VerifiedAt, QR: r.QR, Metadata: r.Metadata,
	}
}

// Put writes s with TTL ExpiresAt-now+grace (at least one second).
func (s *RedisStore) Put(ctx context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(toRedis(sess))
	if err != nil {
		return err
	}
	ttl := sess.ExpiresAt.Sub(s.nowF()) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, keyPrefix+sess.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put session: %w", err)
	}
	return nil
}

// Get returns the session for id, or nil if the key is absent.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get session: %w", err)
	}
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("redis: decode session: %w", err)
	}
	return rs.toDomain(), nil
}

// Delete issues DEL; the deleted-key count makes it a compare-and-delete across replicas.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis: delete session: %w", err)
	}
	return n > 0, nil
}

// Sweep scans session keys and deletes the expired ones. Only sessions this call deleted are returned.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	var out []*domain.Session
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(keyPrefix):]
		sess, err := s.Get(ctx, id)
		if err != nil {
			return out, err
		}
		if sess == nil || !sess.Expired(now) {
			continue
		}
		removed, err := s.Delete(ctx, id)
		if err != nil {
			return out, err
		}
		if removed {
			out = append(out, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("redis: scan sessions: %w", err)
	}
	return out, nil
}
