package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/storage/memory"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func newTestLocal(t *testing.T, clk clock.Clock) *LocalProvider {
	t.Helper()
	p, err := NewLocalProvider(memory.New().Users(), LocalConfig{
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	return p
}

func validRequest() CreateRequest {
	return CreateRequest{
		Username:        "alice",
		Email:           "alice@example.com",
		EmailVisibility: true,
		Password:        "correct-horse",
		PasswordConfirm: "correct-horse",
	}
}

func TestNewLocalProviderRequiresSecret(t *testing.T) {
	_, err := NewLocalProvider(memory.New().Users(), LocalConfig{}, clock.RealClock{}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error without jwt secret")
	}
}

func TestLocalCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewTestClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	p := newTestLocal(t, clk)

	record, err := p.Create(ctx, validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(record.ID) != 15 {
		t.Errorf("expected 15 character id, got %q", record.ID)
	}
	if record.Username != "alice" || record.Email != "alice@example.com" {
		t.Errorf("unexpected record: %+v", record)
	}
	if !record.Created.Equal(clk.Now()) {
		t.Errorf("expected created %v, got %v", clk.Now(), record.Created)
	}

	for _, identity := range []string{"alice", "ALICE@example.com"} {
		res, err := p.AuthWithPassword(ctx, identity, "correct-horse")
		if err != nil {
			t.Fatalf("AuthWithPassword(%q): %v", identity, err)
		}
		if res.Record.ID != record.ID {
			t.Errorf("expected record %s, got %s", record.ID, res.Record.ID)
		}
		claims, err := p.ValidateToken(res.Token)
		if err != nil {
			t.Fatalf("ValidateToken: %v", err)
		}
		if claims.UserID != record.ID || claims.Username != "alice" {
			t.Errorf("unexpected claims: %+v", claims)
		}
	}
}

func TestLocalAuthRejects(t *testing.T) {
	ctx := context.Background()
	p := newTestLocal(t, clock.RealClock{})
	if _, err := p.Create(ctx, validRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name     string
		identity string
		password string
	}{
		{"wrong password", "alice", "wrong-password"},
		{"unknown user", "bob", "correct-horse"},
		{"empty identity", "  ", "correct-horse"},
		{"empty password", "alice", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.AuthWithPassword(ctx, tt.identity, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestLocalCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*CreateRequest)
		field  string
		code   string
	}{
		{"blank username", func(r *CreateRequest) { r.Username = " " }, "username", "validation_required"},
		{"short username", func(r *CreateRequest) { r.Username = "al" }, "username", "validation_length_out_of_range"},
		{"bad username", func(r *CreateRequest) { r.Username = "al ice" }, "username", "validation_invalid_format"},
		{"blank email", func(r *CreateRequest) { r.Email = "" }, "email", "validation_required"},
		{"bad email", func(r *CreateRequest) { r.Email = "alice-at-example" }, "email", "validation_is_email"},
		{"short password", func(r *CreateRequest) { r.Password, r.PasswordConfirm = "short", "short" }, "password", "validation_length_out_of_range"},
		{"short multibyte password", func(r *CreateRequest) { r.Password, r.PasswordConfirm = "éééééé", "éééééé" }, "password", "validation_length_out_of_range"},
		{"mismatch", func(r *CreateRequest) { r.PasswordConfirm = "different-horse" }, "passwordConfirm", "validation_values_mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestLocal(t, clock.RealClock{})
			req := validRequest()
			tt.modify(&req)

			_, err := p.Create(context.Background(), req)
			var rerr *ResponseError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected ResponseError, got %v", err)
			}
			if rerr.Status != 400 {
				t.Errorf("expected status 400, got %d", rerr.Status)
			}
			fe, ok := rerr.Fields[tt.field]
			if !ok {
				t.Fatalf("expected error on %s, got %+v", tt.field, rerr.Fields)
			}
			if fe.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, fe.Code)
			}
		})
	}
}

func TestLocalCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	p := newTestLocal(t, clock.RealClock{})
	if _, err := p.Create(ctx, validRequest()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := validRequest()
	req.Email = "other@example.com"
	_, err := p.Create(ctx, req)

	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResponseError, got %v", err)
	}
	if rerr.Fields["username"].Code != "validation_not_unique" {
		t.Errorf("expected username not unique, got %+v", rerr.Fields)
	}
}

func TestLocalTokenExpiry(t *testing.T) {
	clk := clock.NewTestClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	p := newTestLocal(t, clk)

	token, err := p.GenerateToken("u1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if err := p.VerifyToken(token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	clk.Advance(2 * time.Hour)
	if err := p.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after expiry, got %v", err)
	}

	other := newTestLocal(t, clk)
	other.secret = []byte("another-secret")
	foreign, err := other.GenerateToken("u1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if err := p.VerifyToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}
