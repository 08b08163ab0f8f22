package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.yaml")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Parallelism.MaxConcurrentPerRepo = 1
	cfg.Budget.MonthlyLimitUSD = 12.5
	cfg.Git.AutoCleanupWorktrees = false
	cfg.Providers["api"] = ProviderConfig{Type: "anthropic", Model: "claude-haiku-4-5", Bedrock: true, AWSRegion: "us-west-2"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Parallelism.MaxConcurrentPerRepo != 1 || loaded.Budget.MonthlyLimitUSD != 12.5 {
		t.Errorf("loaded = %+v / %+v", loaded.Parallelism, loaded.Budget)
	}
	if loaded.Git.AutoCleanupWorktrees {
		t.Error("AutoCleanupWorktrees should stay false")
	}
	api := loaded.Providers["api"]
	if api.Type != "anthropic" || !api.Bedrock || api.AWSRegion != "us-west-2" {
		t.Errorf("provider api = %+v", api)
	}
}
