package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: test-secret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Expected http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("Expected storage type redis, got %s", cfg.Storage.Type)
	}
	if cfg.Tracking.FlushInterval != "5s" {
		t.Errorf("Expected flush interval 5s, got %s", cfg.Tracking.FlushInterval)
	}
	if cfg.Auth.Collection != "vlabs_users" {
		t.Errorf("Expected collection vlabs_users, got %s", cfg.Auth.Collection)
	}
	if cfg.Auth.MinPasswordLength != 8 {
		t.Errorf("Expected min password length 8, got %d", cfg.Auth.MinPasswordLength)
	}
	if len(cfg.Labs) != 1 || cfg.Labs[0].Name != "Test Lab" || cfg.Labs[0].Category != "Testing" {
		t.Errorf("Unexpected default labs: %+v", cfg.Labs)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 3000
storage:
  type: memory
auth:
  jwt_secret: test-secret
tracking:
  flush_interval: 2s
labs:
  - name: Queues
    category: Data Structures
  - name: Stacks
    category: Data Structures
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPPort != 3000 {
		t.Errorf("Expected http_port 3000, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected storage type memory, got %s", cfg.Storage.Type)
	}
	if got := ParseDuration(cfg.Tracking.FlushInterval, time.Minute); got != 2*time.Second {
		t.Errorf("Expected flush interval 2s, got %v", got)
	}
	if len(cfg.Labs) != 2 || cfg.Labs[1].Name != "Stacks" {
		t.Errorf("Unexpected labs: %+v", cfg.Labs)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("LABPORTAL_AUTH_JWT_SECRET", "from-env")
	t.Setenv("LABPORTAL_STORAGE_TYPE", "memory")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Expected jwt secret from env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected storage type memory, got %s", cfg.Storage.Type)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			body:    "storage:\n  type: memory\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "unknown provider",
			body:    "auth:\n  provider: ldap\n",
			wantErr: "unsupported auth provider",
		},
		{
			name:    "unknown storage",
			body:    "auth:\n  jwt_secret: x\nstorage:\n  type: mongo\n",
			wantErr: "unsupported storage type",
		},
		{
			name:    "bad duration",
			body:    "auth:\n  jwt_secret: x\ntracking:\n  flush_interval: soon\n",
			wantErr: "tracking.flush_interval",
		},
		{
			name:    "bad port",
			body:    "auth:\n  jwt_secret: x\nserver:\n  http_port: 70000\n",
			wantErr: "invalid HTTP port",
		},
		{
			name:    "duplicate lab",
			body:    "auth:\n  jwt_secret: x\nlabs:\n  - {name: A, category: B}\n  - {name: A, category: B}\n",
			wantErr: "duplicate lab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty: got %v", got)
	}
	if got := ParseDuration("bogus", 5*time.Second); got != 5*time.Second {
		t.Errorf("bogus: got %v", got)
	}
	if got := ParseDuration("250ms", 5*time.Second); got != 250*time.Millisecond {
		t.Errorf("250ms: got %v", got)
	}
}
