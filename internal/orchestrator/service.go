// Package orchestrator is the entry point for new emergencies and for
// operator actions on existing ones.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-response/internal/classifier"
	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/pipeline"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
	"github.com/mr1hm/go-disaster-response/internal/workflow"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, e *models.Emergency) (*workflow.Execution, error)
}

type Service struct {
	store      repository.EmergencyRepository
	dispatcher Dispatcher
	stages     pipeline.Stages
	newID      func() string
	now        func() time.Time
	logger     *slog.Logger
}

func NewService(store repository.EmergencyRepository, dispatcher Dispatcher, stages pipeline.Stages) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		stages:     stages,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.With("component", "orchestrator"),
	}
}

// IntakeResult is returned to whoever reported the emergency.
type IntakeResult struct {
	EmergencyID       string               `json:"emergency_id"`
	WorkflowExecution string               `json:"workflow_execution_id,omitempty"`
	Status            models.Status        `json:"status"`
	EmergencyType     models.EmergencyType `json:"emergency_type"`
	Severity          models.Severity      `json:"severity"`
	EventPublished    bool                 `json:"event_published"`
	Error             string               `json:"error,omitempty"`
}

// Intake classifies a report, records it as INITIATED and dispatches its
// workflow. When dispatch fails the record is kept with an error message and
// the result carries both the id and the error.
func (s *Service) Intake(ctx context.Context, in models.Intake) (*IntakeResult, error) {
	const op = "intake"

	in = in.Unwrap()
	cls, err := classifier.Classify(in)
	if err != nil {
		return nil, stage.Wrap(stage.KindInvalidInput, op, err)
	}

	now := s.now()
	e := &models.Emergency{
		ID:                s.newID(),
		Type:              cls.Type,
		Severity:          cls.Severity,
		Location:          in.Location(),
		Coordinates:       in.Coordinates(),
		AffectedResources: in.AffectedResources(),
		EventData:         map[string]any(in),
		SourceRef:         in.SourceRef(),
		Status:            models.StatusInitiated,
		Timestamp:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateEmergency(ctx, e); err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	logger := s.logger.With("emergency_id", e.ID)
	logger.Info("emergency recorded", "emergency_type", e.Type, "severity", e.Severity, "location", e.Location)

	res := &IntakeResult{
		EmergencyID:   e.ID,
		Status:        e.Status,
		EmergencyType: e.Type,
		Severity:      e.Severity,
	}

	exec, err := s.dispatch(ctx, e)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.WorkflowExecution = exec.Handle
	res.EventPublished = exec.EventPublished
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, e *models.Emergency) (*workflow.Execution, error) {
	logger := s.logger.With("emergency_id", e.ID)

	exec, err := s.dispatcher.Dispatch(ctx, e)
	if err != nil {
		stage.RecordFailure(ctx, s.store, e.ID, "", err, logger, models.StatusInitiated)
		return nil, err
	}

	// Only the handle is written: a local engine may already be moving the
	// status forward.
	if err := s.store.UpdateEmergency(ctx, e.ID, models.EmergencyPatch{WorkflowExecution: &exec.Handle}); err != nil {
		logger.Error("workflow started but handle not stored", "execution", exec.Handle, "error", err)
	}
	return exec, nil
}

// Dispatch re-drives workflow dispatch for a recorded emergency.
func (s *Service) Dispatch(ctx context.Context, id string) (*IntakeResult, error) {
	const op = "dispatch"

	e, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	res := &IntakeResult{
		EmergencyID:       e.ID,
		Status:            e.Status,
		EmergencyType:     e.Type,
		Severity:          e.Severity,
		WorkflowExecution: e.WorkflowExecution,
	}

	switch lifecycle.Check(lifecycle.StageDispatch, e.Status) {
	case lifecycle.GateCompleted:
		return res, nil
	case lifecycle.GateBlocked:
		return res, stage.Errorf(stage.KindInvalidState, op, "cannot dispatch emergency in status %s", e.Status)
	case lifecycle.GateEnter:
	}

	exec, err := s.dispatch(ctx, e)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.WorkflowExecution = exec.Handle
	res.EventPublished = exec.EventPublished
	return res, nil
}

// PublicReport accepts a citizen report. It must name a contact and describe
// what happened.
func (s *Service) PublicReport(ctx context.Context, in models.Intake) (*IntakeResult, error) {
	if err := in.ValidatePublicReport(); err != nil {
		return nil, stage.Wrap(stage.KindInvalidInput, "public-report", err)
	}
	return s.Intake(ctx, in)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Emergency, error) {
	e, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), "get", err)
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, f repository.Filter) ([]models.Emergency, error) {
	list, err := s.store.ListEmergencies(ctx, f)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), "list", err)
	}
	return list, nil
}

// Update applies an operator change. A severity override is always allowed;
// a status change must follow a legal edge from the current status.
func (s *Service) Update(ctx context.Context, id string, req models.UpdateRequest) (*models.Emergency, error) {
	const op = "update"

	if req.Severity == nil && req.Status == nil {
		return nil, stage.Errorf(stage.KindInvalidInput, op, "nothing to update")
	}
	if req.Severity != nil && !req.Severity.Valid() {
		return nil, stage.Errorf(stage.KindInvalidInput, op, "invalid severity %q", *req.Severity)
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, stage.Errorf(stage.KindInvalidInput, op, "invalid status %q", *req.Status)
	}

	e, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	patch := models.EmergencyPatch{Severity: req.Severity}
	if req.Status != nil && *req.Status != e.Status {
		if !lifecycle.CanTransition(e.Status, *req.Status) {
			return nil, stage.Errorf(stage.KindInvalidState, op, "cannot move from %s to %s", e.Status, *req.Status)
		}
		patch.Status = req.Status
	}
	if patch.Empty() {
		return e, nil
	}

	if err := s.store.UpdateEmergency(ctx, id, patch, e.Status); err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}
	s.logger.Info("emergency updated by operator", "emergency_id", id,
		"severity_changed", patch.Severity != nil, "status_changed", patch.Status != nil)

	return s.Get(ctx, id)
}

// RunStage invokes one stage by name against a recorded emergency.
func (s *Service) RunStage(ctx context.Context, st lifecycle.Stage, id string) (any, error) {
	switch st {
	case lifecycle.StageDispatch:
		return nonNil(s.Dispatch(ctx, id))
	case lifecycle.StageAssessment:
		return nonNil(s.stages.Assessment.Run(ctx, id))
	case lifecycle.StageAllocation:
		return nonNil(s.stages.Allocation.Run(ctx, id))
	case lifecycle.StageNotification:
		return nonNil(s.stages.Notification.Run(ctx, id))
	case lifecycle.StageReport:
		return nonNil(s.stages.Report.Run(ctx, id))
	}
	return nil, stage.Errorf(stage.KindInvalidInput, "run-stage", "unknown stage %q", st)
}

// nonNil keeps a typed nil result from turning into a non-nil interface.
func nonNil[T any](res *T, err error) (any, error) {
	if res == nil {
		return nil, err
	}
	return res, err
}

