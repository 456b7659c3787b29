package main

import (
	"path/filepath"
	"testing"

	"github.com/fleetci/taskhub/internal/config"
	"github.com/fleetci/taskhub/internal/persistence"
)

func TestRunMigrate_CreatesSchema(t *testing.T) {
	t.Setenv("TASKHUB_HOME", t.TempDir())

	if err := runMigrate(migrateCmd, nil); err != nil {
		t.Fatalf("runMigrate: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.HomeDir, dbPath)
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store after migrate: %v", err)
	}
	defer store.Close()
}
