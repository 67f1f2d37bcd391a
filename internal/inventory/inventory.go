// Package inventory loads response resources and teams from YAML and writes
// them to the store.
package inventory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

// Inventory is the file format:
//
//	resources:
//	  - id: ert-1
//	    type: emergency-response-team
//	    name: Engine 7
//	teams:
//	  - id: med-1
//	    specialty: medical
type Inventory struct {
	Resources []models.Resource `yaml:"resources"`
	Teams     []models.Team     `yaml:"teams"`
}

type Store interface {
	PutResource(ctx context.Context, r *models.Resource) error
	PutTeam(ctx context.Context, t *models.Team) error
}

func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode parses an inventory, rejecting unknown fields. Entries without an
// availability are AVAILABLE.
func Decode(r io.Reader) (*Inventory, error) {
	var inv Inventory
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&inv); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	seen := make(map[string]bool)
	for i := range inv.Resources {
		res := &inv.Resources[i]
		if res.ID == "" || res.Type == "" {
			return nil, fmt.Errorf("resource %d: id and type are required", i)
		}
		if seen["r:"+res.ID] {
			return nil, fmt.Errorf("duplicate resource id %q", res.ID)
		}
		seen["r:"+res.ID] = true
		if res.Availability == "" {
			res.Availability = models.AvailabilityAvailable
		}
		if !res.Availability.Valid() {
			return nil, fmt.Errorf("resource %q: invalid availability %q", res.ID, res.Availability)
		}
	}
	for i := range inv.Teams {
		team := &inv.Teams[i]
		if team.ID == "" || team.Specialty == "" {
			return nil, fmt.Errorf("team %d: id and specialty are required", i)
		}
		if seen["t:"+team.ID] {
			return nil, fmt.Errorf("duplicate team id %q", team.ID)
		}
		seen["t:"+team.ID] = true
		if team.Availability == "" {
			team.Availability = models.AvailabilityAvailable
		}
		if !team.Availability.Valid() {
			return nil, fmt.Errorf("team %q: invalid availability %q", team.ID, team.Availability)
		}
	}

	return &inv, nil
}

// Seed writes every entry, replacing records with the same id.
func (inv *Inventory) Seed(ctx context.Context, store Store) (resources, teams int, err error) {
	for i := range inv.Resources {
		if err := store.PutResource(ctx, &inv.Resources[i]); err != nil {
			return resources, teams, fmt.Errorf("failed to store resource %q: %w", inv.Resources[i].ID, err)
		}
		resources++
	}
	for i := range inv.Teams {
		if err := store.PutTeam(ctx, &inv.Teams[i]); err != nil {
			return resources, teams, fmt.Errorf("failed to store team %q: %w", inv.Teams[i].ID, err)
		}
		teams++
	}
	return resources, teams, nil
}
