package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
)

const sample = `
resources:
  - id: ert-1
    type: emergency-response-team
    name: Engine 7
  - id: med-1
    type: medical-team
    availability: ALLOCATED
teams:
  - id: team-med
    name: Medical Strike Team
    specialty: medical
  - id: team-rescue
    specialty: search-and-rescue
`

func TestDecode(t *testing.T) {
	inv, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(inv.Resources) != 2 || len(inv.Teams) != 2 {
		t.Fatalf("unexpected inventory: %+v", inv)
	}
	if inv.Resources[0].Availability != models.AvailabilityAvailable {
		t.Errorf("expected default availability, got %s", inv.Resources[0].Availability)
	}
	if inv.Resources[1].Availability != models.AvailabilityAllocated {
		t.Errorf("expected explicit availability kept, got %s", inv.Resources[1].Availability)
	}
	if inv.Resources[0].Name != "Engine 7" || inv.Teams[0].Name != "Medical Strike Team" {
		t.Errorf("names not decoded: %+v", inv)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "resources:\n  - id: a\n    type: b\n    colour: red\n"},
		{"missing type", "resources:\n  - id: a\n"},
		{"missing specialty", "teams:\n  - id: t\n"},
		{"duplicate resource", "resources:\n  - {id: a, type: b}\n  - {id: a, type: c}\n"},
		{"bad availability", "teams:\n  - {id: t, specialty: medical, availability: BUSY}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	inv, err := Decode(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty file should decode: %v", err)
	}
	if len(inv.Resources) != 0 || len(inv.Teams) != 0 {
		t.Errorf("expected empty inventory, got %+v", inv)
	}
}

func TestLoadAndSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	inv, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	resources, teams, err := inv.Seed(ctx, db)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if resources != 2 || teams != 2 {
		t.Errorf("expected 2 and 2, got %d and %d", resources, teams)
	}

	available, err := db.ListAvailableResources(ctx, "emergency-response-team")
	if err != nil {
		t.Fatalf("ListAvailableResources failed: %v", err)
	}
	if len(available) != 1 || available[0].ID != "ert-1" {
		t.Errorf("unexpected available resources: %+v", available)
	}

	medics, err := db.ListAvailableResources(ctx, "medical-team")
	if err != nil {
		t.Fatalf("ListAvailableResources failed: %v", err)
	}
	if len(medics) != 0 {
		t.Errorf("allocated resource listed as available: %+v", medics)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
