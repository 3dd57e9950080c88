package identity

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/goodtune/labportal/internal/storage/memory"
	"github.com/rs/zerolog"
)

type testEnv struct {
	clock    *clock.TestClock
	provider *LocalProvider
	sessions storage.SessionStore
	manager  *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.NewTestClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memory.New()
	p, err := NewLocalProvider(store.Users(), LocalConfig{JWTSecret: "s", TokenTTL: time.Hour, BcryptCost: 4}, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	return &testEnv{
		clock:    clk,
		provider: p,
		sessions: store.Sessions(),
		manager:  NewManager(store.Sessions(), p, 24*time.Hour, clk, zerolog.Nop()),
	}
}

func (e *testEnv) signIn(t *testing.T) *AuthStore {
	t.Helper()
	token, err := e.provider.GenerateToken("u1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	a := e.manager.New()
	if err := a.Save(context.Background(), token, Record{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return a
}

func TestAuthStoreEmpty(t *testing.T) {
	env := newTestEnv(t)
	a := env.manager.New()

	if a.IsValid() {
		t.Error("empty store should not be valid")
	}
	if _, ok := a.Record(); ok {
		t.Error("empty store should have no record")
	}
	if a.ID() != "" || a.Token() != "" {
		t.Error("empty store should have no id or token")
	}
}

func TestAuthStoreSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.signIn(t)

	if !a.IsValid() {
		t.Fatal("expected valid session after save")
	}
	// Token expiry is earlier than the session TTL
	if want := env.clock.Now().Add(time.Hour); !a.ExpiresAt().Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, a.ExpiresAt())
	}

	same, err := env.manager.Load(ctx, a.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if same != a {
		t.Error("expected Load to return the live store")
	}

	// A fresh manager must read the session back from storage
	fresh := NewManager(env.sessions, env.provider, time.Hour, env.clock, zerolog.Nop())
	loaded, err := fresh.Load(ctx, a.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	record, ok := loaded.Record()
	if !ok || record.ID != "u1" || record.Username != "alice" {
		t.Errorf("unexpected record %+v", record)
	}
	if !loaded.IsValid() {
		t.Error("expected loaded session to be valid")
	}
}

func TestAuthStoreSaveRotatesID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.signIn(t)
	first := a.ID()

	token, _ := env.provider.GenerateToken("u1", "alice")
	if err := a.Save(ctx, token, Record{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if a.ID() == first {
		t.Fatal("expected new session id")
	}
	if _, err := env.sessions.Get(ctx, first); err == nil {
		t.Error("expected replaced session to be deleted")
	}
}

func TestAuthStoreClearNotifies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.signIn(t)
	id := a.ID()

	calls := 0
	unsubscribe := a.OnChange(func(s *AuthStore) {
		calls++
		if s.IsValid() {
			t.Error("listener saw a valid store after clear")
		}
	})

	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
	if a.IsValid() {
		t.Error("expected cleared store to be invalid")
	}

	loaded, err := env.manager.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.IsValid() {
		t.Error("expected cleared session to be gone")
	}

	unsubscribe()
	token, _ := env.provider.GenerateToken("u1", "alice")
	if err := a.Save(ctx, token, Record{ID: "u1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no further notifications, got %d", calls)
	}
}

func TestAuthStoreExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.signIn(t)

	expired := false
	a.OnChange(func(*AuthStore) { expired = true })

	env.clock.Advance(2 * time.Hour)
	if a.IsValid() {
		t.Fatal("expected expired session to be invalid")
	}

	n, err := env.manager.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 session deleted, got %d", n)
	}
	if !expired {
		t.Error("expected listener to be told of expiry")
	}
	if env.manager.Active() != 0 {
		t.Errorf("expected no active sessions, got %d", env.manager.Active())
	}
}

func TestLoadUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.manager.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.IsValid() {
		t.Error("expected signed-out store")
	}
}

func TestExpiryVerifier(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.provider.GenerateToken("u1", "alice")
	v := expiryVerifier{clock: env.clock}

	if err := v.VerifyToken(token); err != nil {
		t.Fatalf("expected token accepted, got %v", err)
	}
	if err := v.VerifyToken("not-a-jwt"); err == nil {
		t.Error("expected malformed token rejected")
	}
	env.clock.Advance(2 * time.Hour)
	if err := v.VerifyToken(token); err == nil {
		t.Error("expected expired token rejected")
	}
}
