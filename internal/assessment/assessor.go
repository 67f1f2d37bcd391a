// Package assessment analyses a new emergency and recommends the resource
// types to allocate for it.
package assessment

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

const analysisMaxTokens = 1000

type Store interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
}

// Analyzer is a delegated situation-analysis function.
type Analyzer interface {
	Analyze(ctx context.Context, e *models.Emergency) (string, error)
}

// Recommender is a delegated resource-recommendation function.
type Recommender interface {
	Recommend(ctx context.Context, e *models.Emergency) ([]string, error)
}

type Assessor struct {
	store       Store
	analyzer    Analyzer
	completer   inference.Completer
	recommender Recommender
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Assessor)

func WithAnalyzer(a Analyzer) Option {
	return func(s *Assessor) { s.analyzer = a }
}

func WithCompleter(c inference.Completer) Option {
	return func(s *Assessor) { s.completer = c }
}

func WithRecommender(r Recommender) Option {
	return func(s *Assessor) { s.recommender = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Assessor) { s.now = now }
}

func New(store Store, opts ...Option) *Assessor {
	a := &Assessor{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.With("stage", lifecycle.StageAssessment),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type Result struct {
	EmergencyID          string        `json:"emergency_id"`
	Status               models.Status `json:"status"`
	Assessment           string        `json:"assessment,omitempty"`
	RecommendedResources []string      `json:"recommended_resources,omitempty"`
	AssessedAt           *time.Time    `json:"assessment_timestamp,omitempty"`
	AlreadyAssessed      bool          `json:"already_assessed,omitempty"`
	Error                string        `json:"error,omitempty"`
}

var recommendations = map[models.EmergencyType]map[models.Severity][]string{
	models.EmergencyTypeNaturalDisaster: {
		models.SeverityCritical: {"emergency-response-team", "medical-team", "evacuation-team", "shelter-team"},
		models.SeverityHigh:     {"emergency-response-team", "medical-team", "shelter-team"},
		models.SeverityMedium:   {"emergency-response-team", "shelter-team"},
		models.SeverityLow:      {"emergency-response-team"},
	},
	models.EmergencyTypeInfrastructureFailure: {
		models.SeverityCritical: {"it-emergency-team", "network-team", "database-team", "application-team"},
		models.SeverityHigh:     {"it-emergency-team", "network-team", "database-team"},
		models.SeverityMedium:   {"it-emergency-team", "application-team"},
		models.SeverityLow:      {"it-emergency-team"},
	},
	models.EmergencyTypeSecurityIncident: {
		models.SeverityCritical: {"security-team", "forensics-team", "network-team", "communications-team"},
		models.SeverityHigh:     {"security-team", "forensics-team", "network-team"},
		models.SeverityMedium:   {"security-team", "network-team"},
		models.SeverityLow:      {"security-team"},
	},
}

// Recommend looks up the resource types for a type and severity, with a
// single emergency-response-team for anything the table does not cover.
func Recommend(t models.EmergencyType, s models.Severity) []string {
	if types, ok := recommendations[t][s]; ok {
		return append([]string(nil), types...)
	}
	return []string{"emergency-response-team"}
}

// Prompt is the analysis request sent to the model.
func Prompt(e *models.Emergency) string {
	affected, _ := json.Marshal(e.AffectedResources)
	if e.AffectedResources == nil {
		affected = []byte("[]")
	}
	area := "Unknown"
	if v, ok := e.EventData["affected_area"].(string); ok && v != "" {
		area = v
	}

	var b strings.Builder
	b.WriteString("Analyze the following emergency situation and provide recommendations:\n")
	fmt.Fprintf(&b, "Type: %s\n", e.Type)
	fmt.Fprintf(&b, "Location: %s\n", e.Location)
	fmt.Fprintf(&b, "Affected area: %s\n", area)
	fmt.Fprintf(&b, "Current status: %s\n", e.Status)
	fmt.Fprintf(&b, "Severity: %s\n", e.Severity)
	fmt.Fprintf(&b, "Affected resources: %s\n\n", affected)
	b.WriteString("Provide:\n")
	b.WriteString("1. Immediate actions to take\n")
	b.WriteString("2. Resource allocation recommendations\n")
	b.WriteString("3. Potential risks and mitigation strategies\n")
	b.WriteString("4. Communication plan\n")
	return b.String()
}

// Template is the deterministic analysis used when no model is reachable.
func Template(e *models.Emergency) string {
	return fmt.Sprintf("%s reported at %s with %s severity. Immediate actions: dispatch %s. "+
		"Monitor the situation and keep affected parties informed.",
		e.Type, e.Location, e.Severity, strings.Join(Recommend(e.Type, e.Severity), ", "))
}

// Analyze produces the situation analysis. It never fails: collaborator
// errors are folded into the template text.
func (a *Assessor) Analyze(ctx context.Context, e *models.Emergency) string {
	var (
		text string
		err  error
	)
	switch {
	case a.analyzer != nil:
		text, err = a.analyzer.Analyze(ctx, e)
	case a.completer != nil:
		text, err = a.completer.Invoke(ctx, Prompt(e), analysisMaxTokens)
	default:
		return Template(e)
	}
	if err != nil {
		a.logger.Warn("analysis failed, using template", "emergency_id", e.ID, "error", err)
		return fmt.Sprintf("Error analyzing emergency: %v. %s", err, Template(e))
	}
	return strings.TrimSpace(text)
}

// Recommendations asks the delegated recommender when there is one, and
// falls back to the table when it fails or returns nothing.
func (a *Assessor) Recommendations(ctx context.Context, e *models.Emergency) []string {
	if a.recommender != nil {
		types, err := a.recommender.Recommend(ctx, e)
		if err == nil && len(types) > 0 {
			return types
		}
		if err != nil {
			a.logger.Warn("recommendation failed, using table", "emergency_id", e.ID, "error", err)
		}
	}
	return Recommend(e.Type, e.Severity)
}

// Run is the assessment stage for one emergency.
func (a *Assessor) Run(ctx context.Context, id string) (*Result, error) {
	const op = "assess"
	logger := a.logger.With("emergency_id", id)

	e, err := a.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	switch lifecycle.Check(lifecycle.StageAssessment, e.Status) {
	case lifecycle.GateCompleted:
		logger.Info("assessment already completed", "status", e.Status)
		return &Result{
			EmergencyID:          id,
			Status:               e.Status,
			Assessment:           e.Assessment,
			RecommendedResources: e.RecommendedResources,
			AssessedAt:           e.AssessedAt,
			AlreadyAssessed:      true,
		}, nil
	case lifecycle.GateBlocked:
		return &Result{EmergencyID: id, Status: e.Status, Error: "unknown status"},
			stage.Errorf(stage.KindInvalidState, op, "cannot assess emergency in status %s", e.Status)
	case lifecycle.GateEnter:
	}

	inProgress := models.StatusAssessing
	err = a.store.UpdateEmergency(ctx, id, models.EmergencyPatch{Status: &inProgress},
		lifecycle.EntryStatuses(lifecycle.StageAssessment)...)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}
	e.Status = inProgress

	analysis := a.Analyze(ctx, e)
	recommended := a.Recommendations(ctx, e)

	at := a.now()
	err = a.store.UpdateEmergency(ctx, id, models.EmergencyPatch{
		Status:               models.Ptr(models.StatusAssessed),
		Assessment:           &analysis,
		RecommendedResources: recommended,
		AssessedAt:           &at,
	}, inProgress)
	if errors.Is(err, repository.ErrConflict) {
		return nil, stage.Wrap(stage.KindConflict, op, err)
	}
	if err != nil {
		stage.RecordFailure(ctx, a.store, id, models.StatusAssessmentError, err, logger, inProgress)
		return &Result{EmergencyID: id, Status: models.StatusAssessmentError, Error: err.Error()},
			stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}

	logger.Info("emergency assessed", "recommended_resources", recommended)
	return &Result{
		EmergencyID:          id,
		Status:               models.StatusAssessed,
		Assessment:           analysis,
		RecommendedResources: recommended,
		AssessedAt:           &at,
	}, nil
}
