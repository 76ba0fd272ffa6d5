package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadLocalConfig tests direct yaml loads and the empty-on-missing rule.
func TestLoadLocalConfig(t *testing.T) {
	dir := t.TempDir()
	content := `backend: mysql
database: stacktally
nats-url: nats://broker:4222
deployments: /etc/stacktally/deployments.toml
`
	if err := os.WriteFile(filepath.Join(dir, "stacktally.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg := LoadLocalConfig(dir)
	if cfg.Backend != "mysql" {
		t.Errorf("expected backend mysql, got %q", cfg.Backend)
	}
	if cfg.NATSURL != "nats://broker:4222" {
		t.Errorf("expected nats-url to load, got %q", cfg.NATSURL)
	}

	empty := LoadLocalConfig(t.TempDir())
	if empty == nil {
		t.Fatal("expected empty config for missing file, got nil")
	}
	if empty.Backend != "" {
		t.Errorf("expected zero-value config, got %+v", empty)
	}
}

// TestLoadLocalConfigWithEnv tests that env vars win over file values.
func TestLoadLocalConfigWithEnv(t *testing.T) {
	dir := t.TempDir()
	content := "backend: sqlite\nnats-url: nats://file:4222\n"
	if err := os.WriteFile(filepath.Join(dir, "stacktally.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv("STALLY_NATS_URL", "nats://env:4222")
	cfg := LoadLocalConfigWithEnv(dir)
	if cfg.NATSURL != "nats://env:4222" {
		t.Errorf("expected env override, got %q", cfg.NATSURL)
	}
	if cfg.Backend != "sqlite" {
		t.Errorf("expected file backend to survive, got %q", cfg.Backend)
	}
}
