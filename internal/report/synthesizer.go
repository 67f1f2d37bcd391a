// Package report writes the situation report that closes an emergency's
// lifecycle.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/inference"
	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

const reportMaxTokens = 2000

type Store interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
}

type Synthesizer struct {
	store     Store
	completer inference.Completer
	now       func() time.Time
	logger    *slog.Logger
}

// New builds the report stage. A nil completer always produces the
// templated report.
func New(store Store, completer inference.Completer) *Synthesizer {
	return &Synthesizer{
		store:     store,
		completer: completer,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.With("stage", lifecycle.StageReport),
	}
}

type Result struct {
	EmergencyID     string        `json:"emergency_id"`
	Status          models.Status `json:"status"`
	SituationReport string        `json:"situation_report,omitempty"`
	ReportedAt      *time.Time    `json:"report_timestamp,omitempty"`
	AlreadyReported bool          `json:"already_reported,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func Prompt(e *models.Emergency, resources []models.Resource) string {
	assessment := e.Assessment
	if assessment == "" {
		assessment = "No assessment available"
	}
	if resources == nil {
		resources = []models.Resource{}
	}
	allocated, _ := json.MarshalIndent(resources, "", "  ")

	var b strings.Builder
	b.WriteString("Generate a detailed situation report for the following emergency:\n\n")
	fmt.Fprintf(&b, "Emergency ID: %s\n", e.ID)
	fmt.Fprintf(&b, "Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Severity: %s\n", e.Severity)
	fmt.Fprintf(&b, "Location: %s\n", e.Location)
	fmt.Fprintf(&b, "Time Reported: %s\n", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Current Status: %s\n\n", e.Status)
	fmt.Fprintf(&b, "Assessment:\n%s\n\n", assessment)
	fmt.Fprintf(&b, "Allocated Resources:\n%s\n\n", allocated)
	b.WriteString("Please format the report with the following sections:\n")
	b.WriteString("1. Executive Summary\n")
	b.WriteString("2. Situation Overview\n")
	b.WriteString("3. Current Status\n")
	b.WriteString("4. Resource Allocation\n")
	b.WriteString("5. Next Steps and Recommendations\n")
	return b.String()
}

// Template is the report built from the record alone.
func Template(e *models.Emergency, resources []models.Resource, cause error) string {
	var b strings.Builder
	b.WriteString("# Situation Report\n\n")
	fmt.Fprintf(&b, "## Executive Summary\n%s at %s with %s severity.\n\n", e.Type, e.Location, e.Severity)
	fmt.Fprintf(&b, "## Situation Overview\nEmergency reported at %s.\n\n", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Current Status\nCurrent status is %s.\n\n", e.Status)
	fmt.Fprintf(&b, "## Resource Allocation\n%d resources have been allocated.\n\n", len(resources))
	b.WriteString("## Next Steps and Recommendations\nContinue monitoring the situation.\n")
	if cause != nil {
		fmt.Fprintf(&b, "\nError generating detailed report: %v\n", cause)
	}
	return b.String()
}

// Synthesize always returns a report: model failures yield the template.
func (s *Synthesizer) Synthesize(ctx context.Context, e *models.Emergency, resources []models.Resource) string {
	if s.completer == nil {
		return Template(e, resources, nil)
	}

	text, err := s.completer.Invoke(ctx, Prompt(e, resources), reportMaxTokens)
	if err == nil && strings.TrimSpace(text) == "" {
		err = inference.ErrEmptyCompletion
	}
	if err != nil {
		s.logger.Warn("report generation failed, using template", "emergency_id", e.ID, "error", err)
		return Template(e, resources, err)
	}
	return strings.TrimSpace(text)
}

// Run is the report stage for one emergency.
func (s *Synthesizer) Run(ctx context.Context, id string) (*Result, error) {
	const op = "report"
	logger := s.logger.With("emergency_id", id)

	e, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	switch lifecycle.Check(lifecycle.StageReport, e.Status) {
	case lifecycle.GateCompleted:
		logger.Info("report already generated")
		return &Result{
			EmergencyID:     id,
			Status:          e.Status,
			SituationReport: e.SituationReport,
			ReportedAt:      e.ReportedAt,
			AlreadyReported: true,
		}, nil
	case lifecycle.GateBlocked:
		return &Result{EmergencyID: id, Status: e.Status, Error: "resources not allocated"},
			stage.Errorf(stage.KindInvalidState, op, "cannot report on emergency in status %s", e.Status)
	case lifecycle.GateEnter:
	}

	text := s.Synthesize(ctx, e, e.AllocatedResources)

	entry := lifecycle.EntryStatuses(lifecycle.StageReport)
	at := s.now()
	err = s.store.UpdateEmergency(ctx, id, models.EmergencyPatch{
		Status:          models.Ptr(models.StatusReportGenerated),
		SituationReport: &text,
		ReportedAt:      &at,
	}, entry...)
	if errors.Is(err, repository.ErrConflict) {
		return nil, stage.Wrap(stage.KindConflict, op, err)
	}
	if err != nil {
		stage.RecordFailure(ctx, s.store, id, models.StatusReportError, err, logger, entry...)
		return &Result{EmergencyID: id, Status: models.StatusReportError, Error: err.Error()},
			stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}

	logger.Info("situation report generated", "length", len(text))
	return &Result{
		EmergencyID:     id,
		Status:          models.StatusReportGenerated,
		SituationReport: text,
		ReportedAt:      &at,
	}, nil
}
