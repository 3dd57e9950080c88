package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/labportal/internal/storage"
)

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	kv := New().KV()

	if _, err := kv.Get(ctx, "labStats_u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := kv.Set(ctx, "labStats_u1", "[]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := kv.Get(ctx, "labStats_u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "[]" {
		t.Fatalf("expected [], got %q", got)
	}
}

func TestUserStoreUniqueness(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	alice := storage.User{ID: "u1", Username: "alice", Email: "Alice@Example.com"}
	if err := users.Create(ctx, alice); err != nil {
		t.Fatalf("create: %v", err)
	}

	var conflict *storage.ConflictError
	err := users.Create(ctx, storage.User{ID: "u2", Username: "ALICE", Email: "other@example.com"})
	if !errors.As(err, &conflict) || conflict.Field != "username" {
		t.Fatalf("expected username conflict, got %v", err)
	}
	err = users.Create(ctx, storage.User{ID: "u3", Username: "bob", Email: "alice@example.com"})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	byEmail, err := users.GetByIdentity(ctx, "alice@example.com")
	if err != nil || byEmail.ID != "u1" {
		t.Fatalf("lookup by email: %+v, %v", byEmail, err)
	}
	byName, err := users.GetByIdentity(ctx, " Alice ")
	if err != nil || byName.ID != "u1" {
		t.Fatalf("lookup by username: %+v, %v", byName, err)
	}
	if _, err := users.GetByIdentity(ctx, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions()
	now := time.Now()

	_ = sessions.Put(ctx, storage.Session{ID: "live", ExpiresAt: now.Add(time.Hour)})
	_ = sessions.Put(ctx, storage.Session{ID: "dead", ExpiresAt: now.Add(-time.Hour)})

	n, err := sessions.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, err := sessions.Get(ctx, "dead"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected dead session gone, got %v", err)
	}
	if err := sessions.Delete(ctx, "live"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sessions.Delete(ctx, "live"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
