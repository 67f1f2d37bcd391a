package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict means a conditional write lost: the record was not in the
	// expected state.
	ErrConflict = errors.New("conditional write failed")
)

type Filter struct {
	Limit    int
	Status   *models.Status
	Type     *models.EmergencyType
	Severity *models.Severity
}

func (f Filter) matches(e *models.Emergency) bool {
	if f.Status != nil && e.Status != *f.Status {
		return false
	}
	if f.Type != nil && e.Type != *f.Type {
		return false
	}
	if f.Severity != nil && e.Severity != *f.Severity {
		return false
	}
	return true
}

type EmergencyRepository interface {
	CreateEmergency(ctx context.Context, e *models.Emergency) error
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	ExistsBySourceRef(ctx context.Context, ref string) (bool, error)
	ListEmergencies(ctx context.Context, opts Filter) ([]models.Emergency, error)
	// UpdateEmergency applies patch. With expect set, the write only happens
	// while the stored status is one of expect, otherwise ErrConflict.
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
}

type ResourceRepository interface {
	PutResource(ctx context.Context, r *models.Resource) error
	GetResource(ctx context.Context, id string) (*models.Resource, error)
	ListAvailableResources(ctx context.Context, resourceType string) ([]models.Resource, error)
	ListResourcesAllocatedTo(ctx context.Context, emergencyID string) ([]models.Resource, error)
	// ClaimResource moves a resource from AVAILABLE to ALLOCATED for one
	// emergency. Losing the race returns ErrConflict.
	ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error)
}

type TeamRepository interface {
	PutTeam(ctx context.Context, t *models.Team) error
	ListAvailableTeams(ctx context.Context, specialty string) ([]models.Team, error)
}

type Store interface {
	EmergencyRepository
	ResourceRepository
	TeamRepository
	Close() error
}
