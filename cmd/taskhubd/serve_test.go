package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetci/taskhub/internal/flows"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/roles"
)

func TestSeedRolesAndFlows_SeedsStartersOnEmptyRegistry(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	roleRegistry := roles.NewRegistry(store)
	flowRegistry := flows.NewRegistry(store)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	homeDir := t.TempDir()
	if err := seedRolesAndFlows(context.Background(), homeDir, roleRegistry, flowRegistry, logger); err != nil {
		t.Fatalf("seedRolesAndFlows: %v", err)
	}

	if !roleRegistry.HasAny() {
		t.Fatal("expected starter roles to be seeded")
	}
	if len(flowRegistry.List()) == 0 {
		t.Fatal("expected starter flows to be seeded")
	}
}

func TestSeedRolesAndFlows_RespectsRolesFile(t *testing.T) {
	store, err := persistence.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	roleRegistry := roles.NewRegistry(store)
	flowRegistry := flows.NewRegistry(store)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	homeDir := t.TempDir()
	content := "roles:\n  - name: triager\n    claims_from: incoming\n"
	if err := os.WriteFile(filepath.Join(homeDir, "roles.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write roles.yaml: %v", err)
	}

	if err := seedRolesAndFlows(context.Background(), homeDir, roleRegistry, flowRegistry, logger); err != nil {
		t.Fatalf("seedRolesAndFlows: %v", err)
	}

	if !roleRegistry.Known("triager") {
		t.Fatal("expected triager role from roles.yaml to be registered")
	}
}
