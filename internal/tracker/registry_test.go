package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/storage/memory"
	"github.com/rs/zerolog"
)

type registryEnv struct {
	clock    *clock.TestClock
	stats    *labstats.Store
	provider *identity.LocalProvider
	manager  *identity.Manager
	registry *Registry
}

func newRegistryEnv(t *testing.T) *registryEnv {
	t.Helper()
	clk := clock.NewTestClock(epoch)
	store := memory.New()

	provider, err := identity.NewLocalProvider(store.Users(), identity.LocalConfig{
		JWTSecret:  "secret",
		TokenTTL:   24 * time.Hour,
		BcryptCost: 4,
	}, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	stats := labstats.NewStore(store.KV(), zerolog.Nop())
	// Long intervals keep the ticker goroutines quiet; tests drive Reap directly
	registry := NewRegistry(stats, Config{
		FlushInterval:     time.Hour,
		InactivityTimeout: 30 * time.Second,
		ReapInterval:      time.Hour,
	}, clk, zerolog.Nop())
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	return &registryEnv{
		clock:    clk,
		stats:    stats,
		provider: provider,
		manager:  identity.NewManager(store.Sessions(), provider, 0, clk, zerolog.Nop()),
		registry: registry,
	}
}

func (e *registryEnv) signIn(t *testing.T, userID string) *identity.AuthStore {
	t.Helper()
	token, err := e.provider.GenerateToken(userID, userID)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	a := e.manager.New()
	if err := a.Save(context.Background(), token, identity.Record{ID: userID, Username: userID}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return a
}

func (e *registryEnv) seconds(t *testing.T, userID, lab, category string) int64 {
	t.Helper()
	records, err := e.stats.Records(context.Background(), userID)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	r, _ := findRecord(records, lab, category)
	return r.TimeSpent
}

func TestRegistryOpenRequiresSession(t *testing.T) {
	env := newRegistryEnv(t)
	if _, ok := env.registry.Open(context.Background(), env.manager.New(), "Test Lab", "Testing"); ok {
		t.Fatal("expected open to fail without a session")
	}
	if env.registry.Active() != 0 {
		t.Errorf("expected no sessions, got %d", env.registry.Active())
	}
}

func TestRegistryOpenGivesEachPageItsOwnSession(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	auth := env.signIn(t, "u1")

	first, ok := env.registry.Open(ctx, auth, "Test Lab", "Testing")
	if !ok {
		t.Fatal("expected open to succeed")
	}
	second, _ := env.registry.Open(ctx, auth, "Test Lab", "Testing")
	if first == second {
		t.Errorf("expected distinct ids for two pages of the same lab, got %s twice", first)
	}
	if env.registry.Active() != 2 {
		t.Errorf("expected 2 sessions, got %d", env.registry.Active())
	}
}

func TestRegistryReloadKeepsNewPageTracking(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	auth := env.signIn(t, "u1")

	oldPage, _ := env.registry.Open(ctx, auth, "Stacks", "Data Structures")
	env.clock.Advance(3 * time.Second)

	// The reloaded page opens before the old one's pagehide close arrives
	newPage, ok := env.registry.Open(ctx, auth, "Stacks", "Data Structures")
	if !ok {
		t.Fatal("expected reopen to succeed")
	}
	if err := env.registry.Close(ctx, oldPage, auth.ID()); err != nil {
		t.Fatalf("Close old page: %v", err)
	}

	env.clock.Advance(20 * time.Second)
	if err := env.registry.Heartbeat(newPage, auth.ID()); err != nil {
		t.Fatalf("Heartbeat on reloaded page: %v", err)
	}
	if err := env.registry.Close(ctx, newPage, auth.ID()); err != nil {
		t.Fatalf("Close new page: %v", err)
	}

	if got := env.seconds(t, "u1", "Stacks", "Data Structures"); got != 23 {
		t.Errorf("expected 23 seconds, got %d", got)
	}
	if env.registry.Active() != 0 {
		t.Errorf("expected no sessions, got %d", env.registry.Active())
	}
}

func TestRegistryClose(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	auth := env.signIn(t, "u1")

	id, _ := env.registry.Open(ctx, auth, "Test Lab", "Testing")
	env.clock.Advance(3 * time.Second)

	if err := env.registry.Close(ctx, id, "someone-else"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession for another owner, got %v", err)
	}
	if err := env.registry.Heartbeat(id, "someone-else"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession heartbeat for another owner, got %v", err)
	}

	if err := env.registry.Close(ctx, id, auth.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := env.seconds(t, "u1", "Test Lab", "Testing"); got != 3 {
		t.Errorf("expected 3 seconds, got %d", got)
	}
	if err := env.registry.Close(ctx, id, auth.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("expected ErrUnknownSession on second close, got %v", err)
	}
}

func TestRegistryReapCountsToLastHeartbeat(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	auth := env.signIn(t, "u1")

	id, _ := env.registry.Open(ctx, auth, "Test Lab", "Testing")
	env.clock.Advance(2 * time.Second)
	if err := env.registry.Heartbeat(id, auth.ID()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	env.clock.Advance(20 * time.Second)
	if n := env.registry.Reap(ctx); n != 0 {
		t.Fatalf("expected nothing reaped before timeout, got %d", n)
	}

	env.clock.Advance(20 * time.Second)
	if n := env.registry.Reap(ctx); n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if got := env.seconds(t, "u1", "Test Lab", "Testing"); got != 2 {
		t.Errorf("expected 2 seconds, got %d", got)
	}
	if env.registry.Active() != 0 {
		t.Errorf("expected no sessions, got %d", env.registry.Active())
	}
}

func TestRegistryClosesOnLogout(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	auth := env.signIn(t, "u1")

	env.registry.Open(ctx, auth, "Test Lab", "Testing")
	env.clock.Advance(5 * time.Second)

	if err := auth.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if env.registry.Active() != 0 {
		t.Errorf("expected sessions closed on logout, got %d", env.registry.Active())
	}
	if got := env.seconds(t, "u1", "Test Lab", "Testing"); got != 0 {
		t.Errorf("expected nothing credited after logout, got %d", got)
	}
}

func TestRegistryShutdownFlushes(t *testing.T) {
	ctx := context.Background()
	env := newRegistryEnv(t)
	alice := env.signIn(t, "alice")
	bob := env.signIn(t, "bob")

	env.registry.Open(ctx, alice, "Test Lab", "Testing")
	env.registry.Open(ctx, bob, "Queues", "Data Structures")
	env.clock.Advance(6 * time.Second)

	env.registry.Shutdown(ctx)

	if got := env.seconds(t, "alice", "Test Lab", "Testing"); got != 6 {
		t.Errorf("expected 6 seconds for alice, got %d", got)
	}
	if got := env.seconds(t, "bob", "Queues", "Data Structures"); got != 6 {
		t.Errorf("expected 6 seconds for bob, got %d", got)
	}
	if env.registry.Active() != 0 {
		t.Errorf("expected no sessions after shutdown, got %d", env.registry.Active())
	}
}
