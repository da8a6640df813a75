package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAppliesEnvTagDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ListenURL != "tcp://0.0.0.0:7300" {
		t.Fatalf("ListenURL = %q, want default", cfg.ListenURL)
	}
	if cfg.WorkerPool.MinWorkers != 2 || cfg.WorkerPool.MaxWorkers != 32 {
		t.Fatalf("WorkerPool = %+v, want MinWorkers=2 MaxWorkers=32", cfg.WorkerPool)
	}
	if cfg.Auth.Leeway != 60*time.Second {
		t.Fatalf("Auth.Leeway = %s, want 60s", cfg.Auth.Leeway)
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("OBJECTBUS_LISTEN_URL", "tcp://0.0.0.0:9999")
	t.Setenv("OBJECTBUS_WORKERPOOL_MAX_WORKERS", "64")
	t.Setenv("OBJECTBUS_AUTH_ISSUER", "https://issuer.example")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenURL != "tcp://0.0.0.0:9999" {
		t.Fatalf("ListenURL = %q, want overridden value", cfg.ListenURL)
	}
	if cfg.WorkerPool.MaxWorkers != 64 {
		t.Fatalf("WorkerPool.MaxWorkers = %d, want 64", cfg.WorkerPool.MaxWorkers)
	}
	if cfg.Auth.Issuer != "https://issuer.example" {
		t.Fatalf("Auth.Issuer = %q, want overridden value", cfg.Auth.Issuer)
	}
}

func TestLoadYAMLOverlayMissingFileIsNotAnError(t *testing.T) {
	base := Default()
	cfg, err := LoadYAMLOverlay(base, filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadYAMLOverlay: %v", err)
	}
	if cfg.ListenURL != base.ListenURL {
		t.Fatalf("cfg = %+v, want unchanged base", cfg)
	}
}

func TestLoadYAMLOverlayOverridesFields(t *testing.T) {
	base := Default()

	path := filepath.Join(t.TempDir(), "objectbus.yaml")
	yamlDoc := "listen_url: tcp://127.0.0.1:8111\nworker_pool:\n  max_workers: 16\nauth:\n  issuer: https://issuer.example\n  required_scopes:\n    - objectbus:admin\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write overlay file: %v", err)
	}

	cfg, err := LoadYAMLOverlay(base, path)
	if err != nil {
		t.Fatalf("LoadYAMLOverlay: %v", err)
	}
	if cfg.ListenURL != "tcp://127.0.0.1:8111" {
		t.Fatalf("ListenURL = %q, want overlay value", cfg.ListenURL)
	}
	if cfg.WorkerPool.MaxWorkers != 16 {
		t.Fatalf("WorkerPool.MaxWorkers = %d, want 16", cfg.WorkerPool.MaxWorkers)
	}
	if cfg.Auth.Issuer != "https://issuer.example" {
		t.Fatalf("Auth.Issuer = %q, want overlay value", cfg.Auth.Issuer)
	}
	if len(cfg.Auth.RequiredScopes) != 1 || cfg.Auth.RequiredScopes[0] != "objectbus:admin" {
		t.Fatalf("Auth.RequiredScopes = %v, want [objectbus:admin]", cfg.Auth.RequiredScopes)
	}
	// Fields the overlay doesn't mention keep their base value.
	if cfg.WorkerPool.MinWorkers != base.WorkerPool.MinWorkers {
		t.Fatalf("WorkerPool.MinWorkers = %d, want unchanged base value %d", cfg.WorkerPool.MinWorkers, base.WorkerPool.MinWorkers)
	}
}

func TestToWorkerPoolConfig(t *testing.T) {
	w := WorkerPoolConfig{MinWorkers: 1, MaxWorkers: 8, MinIdle: 1, MaxIdle: 2}
	pc := w.ToWorkerPoolConfig()
	if pc.MinWorkers != 1 || pc.MaxWorkers != 8 || pc.MinIdle != 1 || pc.MaxIdle != 2 {
		t.Fatalf("ToWorkerPoolConfig() = %+v, want matching fields", pc)
	}
}
