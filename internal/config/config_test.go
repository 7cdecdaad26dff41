package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWithoutFile(t *testing.T) {
	chdirForTest(t, t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Commission.MaxDepth != 10 {
		t.Fatalf("expected max depth 10, got %d", cfg.Commission.MaxDepth)
	}
	if !cfg.Commission.CreditInactiveAncestors() {
		t.Fatalf("expected inactive ancestors to be credited by default")
	}
	if cfg.Withdrawal.FeeRate.String() != "0.1" {
		t.Fatalf("expected fee rate 0.1, got %s", cfg.Withdrawal.FeeRate)
	}
	if cfg.Ledger.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.Ledger.MaxRetries)
	}
	if cfg.Graph.SnapshotTTL != 30*time.Second {
		t.Fatalf("expected 30s snapshot ttl, got %s", cfg.Graph.SnapshotTTL)
	}
}

func TestLoadReadsYAMLAndEnvOverrides(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
database:
  dsn: "file:from-yaml.db"
commission:
  max-depth: 5
  credit-inactive: false
withdrawal:
  fee-rate: "0.05"
  min-amount: "20"
`
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	t.Setenv(EnvDatabaseDSN, "file:from-env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "file:from-env.db" {
		t.Fatalf("expected env dsn override, got %s", cfg.Database.DSN)
	}
	if cfg.Commission.MaxDepth != 5 || cfg.Commission.CreditInactiveAncestors() {
		t.Fatalf("unexpected commission config: %+v", cfg.Commission)
	}
	if cfg.Withdrawal.FeeRate.String() != "0.05" || cfg.Withdrawal.MinAmount.String() != "20" {
		t.Fatalf("unexpected withdrawal config: fee=%s min=%s", cfg.Withdrawal.FeeRate, cfg.Withdrawal.MinAmount)
	}
}

func TestLoadRejectsFeeRateOutOfRange(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte("withdrawal:\n  fee-rate: \"1.5\"\n"), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected fee rate 1.5 to be rejected")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/memberledger.yaml")
	if got := ResolveConfigPath(" custom.yaml "); got != "custom.yaml" {
		t.Fatalf("expected flag path, got %s", got)
	}
	if got := ResolveConfigPath(""); got != "/etc/memberledger.yaml" {
		t.Fatalf("expected env path, got %s", got)
	}
}

func TestLoadRejectsDepthAbovePlan(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte("commission:\n  max-depth: 11\n"), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected max-depth 11 to be rejected")
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains:
// it changes the working directory and restores it when the test ends.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
