// Package allocator claims scarce resources for an emergency without ever
// handing one resource to two emergencies.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

type Store interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
	ListAvailableResources(ctx context.Context, resourceType string) ([]models.Resource, error)
	ListResourcesAllocatedTo(ctx context.Context, emergencyID string) ([]models.Resource, error)
	ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error)
}

// Recommender is the optional lookup consulted when a record carries no
// recommended resource types.
type Recommender interface {
	Recommend(ctx context.Context, e *models.Emergency) ([]string, error)
}

type Allocator struct {
	store       Store
	recommender Recommender
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Allocator)

func WithRecommender(r Recommender) Option {
	return func(a *Allocator) { a.recommender = r }
}

func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

func New(store Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.With("stage", lifecycle.StageAllocation),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type Result struct {
	EmergencyID string            `json:"emergency_id"`
	Status      models.Status     `json:"status"`
	Resources   []models.Resource `json:"allocated_resources"`
	AllocatedAt *time.Time        `json:"allocation_timestamp,omitempty"`
	// AlreadyAllocated is set when the record was past this stage and the
	// stored allocation was returned without claiming anything.
	AlreadyAllocated bool   `json:"already_allocated,omitempty"`
	Error            string `json:"error,omitempty"`
}

// DefaultTypes is the fallback recommendation per emergency type.
func DefaultTypes(t models.EmergencyType) []string {
	switch t {
	case models.EmergencyTypeNaturalDisaster:
		return []string{"emergency-response-team", "medical-team"}
	case models.EmergencyTypeInfrastructureFailure:
		return []string{"it-emergency-team", "network-team"}
	case models.EmergencyTypeSecurityIncident:
		return []string{"security-team", "forensics-team"}
	case models.EmergencyTypeGeneral:
		return []string{"emergency-response-team"}
	}
	return []string{"emergency-response-team"}
}

// Allocate claims every available resource of each requested type. A claim
// lost to another allocator is skipped. Types for which the emergency already
// holds resources are not claimed again, and held resources are part of the
// result.
func (a *Allocator) Allocate(ctx context.Context, emergencyID string, types []string) ([]models.Resource, error) {
	held, err := a.store.ListResourcesAllocatedTo(ctx, emergencyID)
	if err != nil {
		return nil, fmt.Errorf("listing held resources: %w", err)
	}

	won := make([]models.Resource, 0, len(held))
	won = append(won, held...)
	covered := make(map[string]bool, len(held))
	for _, r := range held {
		covered[r.Type] = true
	}

	for _, typ := range types {
		if covered[typ] {
			continue
		}
		covered[typ] = true

		candidates, err := a.store.ListAvailableResources(ctx, typ)
		if err != nil {
			return won, fmt.Errorf("listing %s resources: %w", typ, err)
		}

		for _, c := range candidates {
			claimed, err := a.store.ClaimResource(ctx, c.ID, emergencyID, a.now())
			if errors.Is(err, repository.ErrConflict) {
				a.logger.Debug("resource claimed by another emergency",
					"emergency_id", emergencyID, "resource_id", c.ID)
				continue
			}
			if err != nil {
				return won, fmt.Errorf("claiming %s: %w", c.ID, err)
			}
			won = append(won, *claimed)
		}
	}

	return won, nil
}

func (a *Allocator) recommendedTypes(ctx context.Context, e *models.Emergency) []string {
	if len(e.RecommendedResources) > 0 {
		return e.RecommendedResources
	}
	if a.recommender != nil {
		types, err := a.recommender.Recommend(ctx, e)
		if err == nil && len(types) > 0 {
			return types
		}
		if err != nil {
			a.logger.Warn("recommendation lookup failed, using defaults",
				"emergency_id", e.ID, "error", err)
		}
	}
	return DefaultTypes(e.Type)
}

// Run is the allocation stage for one emergency.
func (a *Allocator) Run(ctx context.Context, id string) (*Result, error) {
	const op = "allocate"
	logger := a.logger.With("emergency_id", id)

	e, err := a.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	switch lifecycle.Check(lifecycle.StageAllocation, e.Status) {
	case lifecycle.GateCompleted:
		logger.Info("allocation already completed", "status", e.Status)
		return &Result{
			EmergencyID:      id,
			Status:           e.Status,
			Resources:        e.AllocatedResources,
			AllocatedAt:      e.AllocatedAt,
			AlreadyAllocated: true,
		}, nil
	case lifecycle.GateBlocked:
		return &Result{EmergencyID: id, Status: e.Status, Error: "not assessed"},
			stage.Errorf(stage.KindInvalidState, op, "cannot allocate resources for emergency in status %s", e.Status)
	case lifecycle.GateEnter:
	}

	inProgress := models.StatusAllocatingResources
	err = a.store.UpdateEmergency(ctx, id, models.EmergencyPatch{Status: &inProgress},
		lifecycle.EntryStatuses(lifecycle.StageAllocation)...)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	fail := func(cause error) (*Result, error) {
		stage.RecordFailure(ctx, a.store, id, models.StatusResourceAllocationError, cause, logger, inProgress)
		return &Result{EmergencyID: id, Status: models.StatusResourceAllocationError, Error: cause.Error()},
			stage.Wrap(stage.KindCollaboratorFailure, op, cause)
	}

	types := a.recommendedTypes(ctx, e)
	if _, err := a.Allocate(ctx, id, types); err != nil {
		return fail(err)
	}

	// A duplicate run may have claimed for this emergency too, so the record
	// gets everything the store holds for it, not only this run's claims.
	resources, err := a.store.ListResourcesAllocatedTo(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("listing held resources: %w", err))
	}

	at := a.now()
	err = a.store.UpdateEmergency(ctx, id, models.EmergencyPatch{
		Status:             models.Ptr(models.StatusResourcesAllocated),
		AllocatedResources: resources,
		AllocatedAt:        &at,
	}, inProgress)
	if errors.Is(err, repository.ErrConflict) {
		return a.reconcile(ctx, id, err)
	}
	if err != nil {
		return fail(err)
	}

	logger.Info("resources allocated", "requested_types", types, "allocated", len(resources))
	return &Result{
		EmergencyID: id,
		Status:      models.StatusResourcesAllocated,
		Resources:   resources,
		AllocatedAt: &at,
	}, nil
}

// reconcile handles a final write lost to a duplicate run. When that run has
// already completed the stage, the stored list is rewritten from the store so
// resources claimed by this run are not left off the record.
func (a *Allocator) reconcile(ctx context.Context, id string, cause error) (*Result, error) {
	const op = "allocate"

	e, err := a.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}
	if e.Status != models.StatusResourcesAllocated {
		return nil, stage.Wrap(stage.KindConflict, op, cause)
	}

	resources, err := a.store.ListResourcesAllocatedTo(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}
	err = a.store.UpdateEmergency(ctx, id, models.EmergencyPatch{AllocatedResources: resources},
		models.StatusResourcesAllocated)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	a.logger.Info("allocation merged with a concurrent run", "emergency_id", id, "allocated", len(resources))
	return &Result{
		EmergencyID:      id,
		Status:           models.StatusResourcesAllocated,
		Resources:        resources,
		AllocatedAt:      e.AllocatedAt,
		AlreadyAllocated: true,
	}, nil
}
