package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/netprint/internal/command"
	"github.com/thereceipt/netprint/internal/registry"
)

func TestRegisterDiscovered_UsesReloadedPort(t *testing.T) {
	reg, err := registry.New(filepath.Join(t.TempDir(), "registry.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	exec := command.NewExecutor(nil, nil, reg, time.Second, 9100)
	onAdded := registerDiscovered(reg, exec)

	onAdded("10.0.0.5")
	exec.SetDefaults(time.Second, 9101)
	onAdded("10.0.0.6")

	printers := reg.List()
	if len(printers) != 2 {
		t.Fatalf("Expected 2 printers, got %d", len(printers))
	}
	if printers[0].Host != "10.0.0.5" || printers[0].Port != 9100 {
		t.Errorf("Unexpected first printer %+v", printers[0])
	}
	if printers[1].Host != "10.0.0.6" || printers[1].Port != 9101 {
		t.Errorf("Expected reloaded port 9101, got %+v", printers[1])
	}
}
