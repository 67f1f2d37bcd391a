// Package pipeline is the in-process workflow engine. It runs the stages of
// an emergency in order on a worker pool when no external engine is
// configured.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mr1hm/go-disaster-response/internal/allocator"
	"github.com/mr1hm/go-disaster-response/internal/assessment"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/notify"
	"github.com/mr1hm/go-disaster-response/internal/report"
	"github.com/mr1hm/go-disaster-response/internal/worker"
	"github.com/mr1hm/go-disaster-response/internal/workflow"
)

const HandlePrefix = "local:execution:"

type Assessor interface {
	Run(ctx context.Context, id string) (*assessment.Result, error)
}

type Allocator interface {
	Run(ctx context.Context, id string) (*allocator.Result, error)
}

type Notifier interface {
	Run(ctx context.Context, id string) (*notify.Result, error)
}

type Reporter interface {
	Run(ctx context.Context, id string) (*report.Result, error)
}

type Stages struct {
	Assessment   Assessor
	Allocation   Allocator
	Notification Notifier
	Report       Reporter
}

type execution struct {
	Handle     string
	WorkflowID string
	Input      workflow.Input
}

// Runner implements workflow.Starter. Executions are keyed by name; starting
// a name twice returns the first handle and runs nothing new.
type Runner struct {
	stages Stages
	events workflow.EventPublisher
	pool   *worker.WorkerPool[execution]
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]string
}

type Config struct {
	Workers    int
	BufferSize int
}

// NewRunner builds a runner. events, when set, receives a lifecycle event
// after every stage.
func NewRunner(stages Stages, events workflow.EventPublisher, cfg Config) *Runner {
	r := &Runner{
		stages:  stages,
		events:  events,
		logger:  slog.With("component", "pipeline"),
		handles: make(map[string]string),
	}
	r.pool = worker.NewWorkerPool("pipeline", cfg.Workers, cfg.BufferSize, r.process)
	return r
}

func (r *Runner) Start(ctx context.Context) {
	r.pool.Start(ctx)
}

// Stop stops accepting executions and waits for queued ones to finish.
func (r *Runner) Stop() {
	r.pool.Stop()
}

func Handle(workflowID, name string) string {
	return HandlePrefix + workflowID + ":" + name
}

func (r *Runner) StartExecution(ctx context.Context, workflowID, name string, input []byte) (string, error) {
	var in workflow.Input
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decoding workflow input: %w", err)
	}
	if in.EmergencyID == "" {
		return "", fmt.Errorf("workflow input has no emergency_id")
	}

	r.mu.Lock()
	if h, ok := r.handles[name]; ok {
		r.mu.Unlock()
		r.logger.Info("execution already started", "name", name, "execution", h)
		return h, nil
	}
	h := Handle(workflowID, name)
	r.handles[name] = h
	r.mu.Unlock()

	if err := r.pool.Submit(ctx, execution{Handle: h, WorkflowID: workflowID, Input: in}); err != nil {
		r.mu.Lock()
		delete(r.handles, name)
		r.mu.Unlock()
		return "", fmt.Errorf("queueing execution %s: %w", name, err)
	}
	return h, nil
}

func (r *Runner) process(ctx context.Context, ex execution) error {
	id := ex.Input.EmergencyID
	logger := r.logger.With("emergency_id", id, "execution", ex.Handle)
	logger.Info("execution started", "workflow", ex.WorkflowID)

	ar, err := r.stages.Assessment.Run(ctx, id)
	if err != nil {
		if ar != nil {
			r.emit(ctx, ex, ar.Status)
		}
		return fmt.Errorf("assessment: %w", err)
	}
	r.emit(ctx, ex, ar.Status)

	alr, err := r.stages.Allocation.Run(ctx, id)
	if err != nil {
		if alr != nil {
			r.emit(ctx, ex, alr.Status)
		}
		return fmt.Errorf("allocation: %w", err)
	}
	r.emit(ctx, ex, alr.Status)

	// A failed notification leaves the marker unset; the report still runs.
	nr, err := r.stages.Notification.Run(ctx, id)
	if err != nil {
		logger.Error("notification failed", "error", err)
	} else {
		r.emit(ctx, ex, nr.Status)
	}

	rr, err := r.stages.Report.Run(ctx, id)
	if err != nil {
		if rr != nil {
			r.emit(ctx, ex, rr.Status)
		}
		return fmt.Errorf("report: %w", err)
	}
	r.emit(ctx, ex, rr.Status)

	logger.Info("execution finished", "status", rr.Status)
	return nil
}

func (r *Runner) emit(ctx context.Context, ex execution, status models.Status) {
	if r.events == nil {
		return
	}
	err := r.events.PublishLifecycle(ctx, models.LifecycleEvent{
		EmergencyID:       ex.Input.EmergencyID,
		EmergencyType:     ex.Input.EmergencyType,
		Severity:          ex.Input.Severity,
		Status:            status,
		WorkflowExecution: ex.Handle,
	})
	if err != nil {
		r.logger.Warn("lifecycle event not published", "emergency_id", ex.Input.EmergencyID, "status", status, "error", err)
	}
}
