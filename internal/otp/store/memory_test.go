package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShiroSan123/otp-valhalla/internal/otp/domain"
)

func newSession(id string, expiresAt time.Time) *domain.Session {
	return &domain.Session{
		ID:         id,
		Phone:      "+79991234567",
		Provider:   domain.ProviderMock,
		SecretHash: "hash",
		CreatedAt:  expiresAt.Add(-5 * time.Minute),
		ExpiresAt:  expiresAt,
		Status:     domain.StatusPending,
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().UTC().Add(5 * time.Minute)

	if err := store.Put(ctx, newSession("s1", expiresAt)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get should return session after Put")
	}
	if got.Phone != "+79991234567" {
		t.Errorf("Phone = %q, want %q", got.Phone, "+79991234567")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}

func TestMemoryStore_GetDoesNotApplyExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, newSession("s1", time.Now().UTC().Add(-time.Minute)))

	got, _ := store.Get(ctx, "s1")
	if got == nil {
		t.Fatal("expired sessions stay visible until the verifier deletes them")
	}
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newSession("s1", time.Now().Add(time.Minute))
	_ = store.Put(ctx, s)
	s.Phone = "+70000000000"
	_ = store.Put(ctx, s)

	got, _ := store.Get(ctx, "s1")
	if got.Phone != "+70000000000" {
		t.Errorf("Phone = %q, want overwritten value", got.Phone)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newSession("s1", time.Now().Add(time.Minute))
	_ = store.Put(ctx, s)
	s.Phone = "mutated after put"

	got, _ := store.Get(ctx, "s1")
	got.Status = domain.StatusVerified

	again, _ := store.Get(ctx, "s1")
	if again.Phone != "+79991234567" {
		t.Errorf("Phone = %q, caller mutation leaked into store", again.Phone)
	}
	if again.Status != domain.StatusPending {
		t.Errorf("Status = %q, caller mutation leaked into store", again.Status)
	}
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, newSession("s1", time.Now().Add(time.Minute)))

	removed, err := store.Delete(ctx, "s1")
	if err != nil || !removed {
		t.Fatalf("first Delete = (%v, %v), want (true, nil)", removed, err)
	}
	removed, err = store.Delete(ctx, "s1")
	if err != nil || removed {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", removed, err)
	}
	if got, _ := store.Get(ctx, "s1"); got != nil {
		t.Error("Get should return nil after Delete")
	}
}

func TestMemoryStore_ConcurrentDeleteSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, newSession("s1", time.Now().Add(time.Minute)))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Delete(ctx, "s1"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("Delete winners = %d, want 1", wins)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expiresAt := time.Now().Add(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("s-%d", i)
		wg.Add(3)
		go func() { defer wg.Done(); _ = store.Put(ctx, newSession(id, expiresAt)) }()
		go func() { defer wg.Done(); _, _ = store.Get(ctx, id) }()
		go func() { defer wg.Done(); _, _ = store.Delete(ctx, id) }()
	}
	wg.Wait()
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.Put(ctx, newSession("expired", now.Add(-time.Second)))
	_ = store.Put(ctx, newSession("boundary", now))
	_ = store.Put(ctx, newSession("live", now.Add(time.Minute)))

	reaped, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(reaped) != 2 {
		t.Fatalf("reaped = %d, want 2", len(reaped))
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	if got, _ := store.Get(ctx, "live"); got == nil {
		t.Error("live session must survive the sweep")
	}
}
