package autohands

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRunLoopConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadRunLoopConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != DefaultRunLoopConfig() {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRunLoopConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadRunLoopConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != DefaultRunLoopConfig() {
		t.Errorf("expected defaults for a missing file, got %+v", cfg)
	}
}

func TestLoadRunLoopConfigOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runloop.toml")
	content := `
max_workers = 16
max_retries = 7
retry_delay_secs = 2
max_queue_size = 500
max_tasks_per_chain = 10
chain_stale_secs = 120
check_interval_secs = 5
shutdown_timeout_secs = 15
task_store_path = "custom.db"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadRunLoopConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxWorkers != 16 {
		t.Errorf("expected max_workers=16, got %d", cfg.MaxWorkers)
	}
	if cfg.TaskStorePath != "custom.db" {
		t.Errorf("expected custom task_store_path, got %q", cfg.TaskStorePath)
	}
	if cfg.MaxTasksPerChain != 10 {
		t.Errorf("expected max_tasks_per_chain=10, got %d", cfg.MaxTasksPerChain)
	}
}

func TestLoadRunLoopConfigPartialOverrideKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	if err := os.WriteFile(path, []byte("max_workers = 99\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadRunLoopConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxWorkers != 99 {
		t.Errorf("expected override to apply, got %d", cfg.MaxWorkers)
	}
	if cfg.RetryDelaySecs != DefaultRunLoopConfig().RetryDelaySecs {
		t.Errorf("expected un-overridden fields to keep their default, got %d", cfg.RetryDelaySecs)
	}
}
