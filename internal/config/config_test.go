package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/2389-research/quoracle/internal/budget"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quoracle.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, `
models:
  - gpt-x
  - claude-y
families:
  - name: gpt-x
    max_temperature: 1.0
    temp_floor: 0.1
capability_groups:
  - name: file_read
    actions: [read_file, list_dir]
allowed_base_actions: [wait, message]
budget:
  mode: allocated
  allocated: 100.0
data_dir: /var/lib/quoracle
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("Models = %v, want 2 entries", cfg.Models)
	}
	pool := cfg.Pool()
	if len(pool.Models) != 2 || pool.FamilyOf["gpt-x"].MaxTemperature != 1.0 {
		t.Fatalf("Pool() = %+v, want gpt-x family with max_temperature 1.0", pool)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/quoracle.yaml"); err == nil {
		t.Fatal("Load on a missing file returned nil error")
	}
}

func TestConfig_ValidateRejectsEmptyModels(t *testing.T) {
	path := writeTemp(t, "models: []\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load with no models returned nil error")
	}
}

func TestConfig_ValidateRejectsAllocatedWithoutCeiling(t *testing.T) {
	path := writeTemp(t, `
models: [m1]
budget:
  mode: allocated
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load with allocated mode and no ceiling returned nil error")
	}
}

func TestConfig_RootBudgetDefaultsToRootMode(t *testing.T) {
	path := writeTemp(t, "models: [m1]\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b := cfg.RootBudget()
	if b.Mode != budget.ModeRoot {
		t.Fatalf("Mode = %q, want %q", b.Mode, budget.ModeRoot)
	}
	if b.Committed == nil || *b.Committed != 0 {
		t.Fatalf("Committed = %v, want pointer to 0", b.Committed)
	}
}

func TestConfig_CapabilityActionsUnionsGroupsAndBase(t *testing.T) {
	path := writeTemp(t, `
models: [m1]
allowed_base_actions: [wait]
capability_groups:
  - name: file_read
    actions: [read_file]
  - name: file_write
    actions: [write_file, read_file]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	actions := cfg.CapabilityActions([]string{"file_read", "file_write"})
	seen := map[string]bool{}
	for _, a := range actions {
		seen[a] = true
	}
	for _, want := range []string{"wait", "read_file", "write_file"} {
		if !seen[want] {
			t.Fatalf("CapabilityActions() = %v, missing %q", actions, want)
		}
	}
	// read_file granted by two groups should appear once.
	count := 0
	for _, a := range actions {
		if a == "read_file" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("read_file appeared %d times, want 1 (deduplicated)", count)
	}
}
