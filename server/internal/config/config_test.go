package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Agent-only file: the server section is absent.
	p := writeConfig(t, `canary:
  namespace: WebHealth
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", cfg.Server.GRPCPort, DefaultGRPCPort)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Retention.TTL != DefaultSeriesTTL {
		t.Errorf("retention.ttl: got %v, want %v", cfg.Server.Retention.TTL, DefaultSeriesTTL)
	}
	if cfg.Server.Retention.MaxSamples != DefaultMaxSamples {
		t.Errorf("retention.max_samples: got %d, want %d", cfg.Server.Retention.MaxSamples, DefaultMaxSamples)
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-canary-key
  retention:
    ttl: 2h
    max_samples: 24
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.GRPCPort != 9090 {
		t.Errorf("grpc_port: got %d, want 9090", cfg.Server.GRPCPort)
	}
	if cfg.Server.Auth.Mode != "apikey" {
		t.Errorf("auth.mode: got %q, want apikey", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-canary-key" {
		t.Errorf("header: got %q, want x-canary-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Retention.TTL != 2*time.Hour {
		t.Errorf("retention.ttl: got %v, want 2h", cfg.Server.Retention.TTL)
	}
	if cfg.Server.Retention.MaxSamples != 24 {
		t.Errorf("retention.max_samples: got %d, want 24", cfg.Server.Retention.MaxSamples)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name, yaml, want string
	}{
		{"grpc port", "server:\n  grpc_port: 70000\n", "grpc_port"},
		{"http port", "server:\n  http_port: -1\n", "http_port"},
		{"same ports", "server:\n  grpc_port: 9000\n  http_port: 9000\n", "must differ"},
		{"auth mode", "server:\n  auth:\n    mode: mtls\n", "auth.mode"},
		{"apikey without env", "server:\n  auth:\n    mode: apikey\n", "key_env"},
		{"ttl", "server:\n  retention:\n    ttl: -1s\n", "retention.ttl"},
		{"samples", "server:\n  retention:\n    max_samples: 0\n", "max_samples"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("Load: expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("CANARY_RECEIVER_KEY", "s3cret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "CANARY_RECEIVER_KEY"}
	if got := a.Key(); got != "s3cret" {
		t.Errorf("Key: got %q, want s3cret", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key without env: got %q, want empty", got)
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q, want x-api-key", got)
	}
}
