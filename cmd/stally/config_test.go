package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudtally/stacktally/internal/config"
	"github.com/cloudtally/stacktally/internal/storage/factory"
)

// TestLocalConfigSeedsDefaults tests the defaults layer built from a direct
// stacktally.yaml read: file values override the hard defaults, and absent
// fields fall through to them.
func TestLocalConfigSeedsDefaults(t *testing.T) {
	t.Setenv("STALLY_BACKEND", "")
	t.Setenv("STALLY_DB", "")
	t.Setenv("STALLY_NATS_URL", "")
	t.Setenv("STALLY_DEPLOYMENTS", "")

	dir := t.TempDir()
	yaml := "backend: mysql\nnats-url: nats://broker:4222\n"
	if err := os.WriteFile(filepath.Join(dir, "stacktally.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write stacktally.yaml: %v", err)
	}

	local := config.LoadLocalConfigWithEnv(dir)
	if got := firstNonEmpty(local.Backend, factory.BackendSQLite); got != "mysql" {
		t.Errorf("backend = %q, want mysql", got)
	}
	if got := firstNonEmpty(local.NATSURL, "nats://127.0.0.1:4222"); got != "nats://broker:4222" {
		t.Errorf("nats-url = %q, want the file value", got)
	}
	// Database is absent from the file, so the hard default wins.
	if got := firstNonEmpty(local.Database, "stacktally.db"); got != "stacktally.db" {
		t.Errorf("db = %q, want stacktally.db", got)
	}
}

// TestLocalConfigEnvOverridesFile tests that STALLY_ env vars beat the file.
func TestLocalConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("STALLY_BACKEND", "sqlite")
	t.Setenv("STALLY_DB", "")
	t.Setenv("STALLY_NATS_URL", "")
	t.Setenv("STALLY_DEPLOYMENTS", "")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stacktally.yaml"), []byte("backend: mysql\n"), 0o600); err != nil {
		t.Fatalf("write stacktally.yaml: %v", err)
	}

	local := config.LoadLocalConfigWithEnv(dir)
	if local.Backend != "sqlite" {
		t.Errorf("backend = %q, want the env override", local.Backend)
	}
}
