// Package workflow starts the per-emergency workflow and announces it.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

const (
	EventSource     = "emergency.orchestrator"
	EventDetailType = "Emergency Initiated"
)

// Starter launches a named workflow execution and returns its handle.
// Starting an execution name twice must not run it twice.
type Starter interface {
	StartExecution(ctx context.Context, workflowID, name string, input []byte) (string, error)
}

type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error
}

// Input is the payload every workflow execution receives.
type Input struct {
	EmergencyID       string               `json:"emergency_id"`
	EmergencyType     models.EmergencyType `json:"emergency_type"`
	Severity          models.Severity      `json:"severity"`
	Location          string               `json:"location"`
	Timestamp         time.Time            `json:"timestamp"`
	AffectedResources []string             `json:"affected_resources"`
}

type Execution struct {
	Handle         string
	Name           string
	WorkflowID     string
	EventPublished bool
	EventError     error
}

type Dispatcher struct {
	mapping map[models.EmergencyType]string
	starter Starter
	events  EventPublisher
	logger  *slog.Logger
}

func NewDispatcher(mapping map[models.EmergencyType]string, starter Starter, events EventPublisher) *Dispatcher {
	m := make(map[models.EmergencyType]string, len(mapping))
	for k, v := range mapping {
		if v != "" {
			m[k] = v
		}
	}
	return &Dispatcher{
		mapping: m,
		starter: starter,
		events:  events,
		logger:  slog.With("stage", "dispatch"),
	}
}

func ExecutionName(emergencyID string) string {
	return "emergency-" + emergencyID
}

// WorkflowFor returns the workflow mapped to t.
func (d *Dispatcher) WorkflowFor(t models.EmergencyType) (string, bool) {
	id, ok := d.mapping[t]
	return id, ok
}

// Dispatch starts the workflow for e and publishes the lifecycle event. It
// does not write the handle back; the caller owns the record.
func (d *Dispatcher) Dispatch(ctx context.Context, e *models.Emergency) (*Execution, error) {
	const op = "dispatch"

	workflowID, ok := d.WorkflowFor(e.Type)
	if !ok {
		return nil, stage.Errorf(stage.KindUnsupportedType, op, "no workflow mapped for emergency type %s", e.Type)
	}

	affected := e.AffectedResources
	if affected == nil {
		affected = []string{}
	}
	input, err := json.Marshal(Input{
		EmergencyID:       e.ID,
		EmergencyType:     e.Type,
		Severity:          e.Severity,
		Location:          e.Location,
		Timestamp:         e.Timestamp,
		AffectedResources: affected,
	})
	if err != nil {
		return nil, stage.Wrap(stage.KindInvalidInput, op, fmt.Errorf("encoding workflow input: %w", err))
	}

	name := ExecutionName(e.ID)
	handle, err := d.starter.StartExecution(ctx, workflowID, name, input)
	if err != nil {
		return nil, stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}

	exec := &Execution{Handle: handle, Name: name, WorkflowID: workflowID}
	logger := d.logger.With("emergency_id", e.ID, "execution", handle)

	if d.events != nil {
		err := d.events.PublishLifecycle(ctx, models.LifecycleEvent{
			EmergencyID:       e.ID,
			EmergencyType:     e.Type,
			Severity:          e.Severity,
			Status:            models.StatusInitiated,
			WorkflowExecution: handle,
		})
		if err != nil {
			exec.EventError = err
			logger.Warn("workflow started but lifecycle event not published", "error", err)
		} else {
			exec.EventPublished = true
		}
	}

	logger.Info("workflow started", "workflow", workflowID)
	return exec, nil
}
