// Package notify alerts response teams about an emergency and queues one
// response task per team.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-response/internal/lifecycle"
	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/pubsub"
	"github.com/mr1hm/go-disaster-response/internal/queue"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

type Store interface {
	GetEmergency(ctx context.Context, id string) (*models.Emergency, error)
	UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error
	ListAvailableTeams(ctx context.Context, specialty string) ([]models.Team, error)
}

// Topics names the destinations. An empty topic or queue disables that leg
// of the fanout.
type Topics struct {
	Alert     string
	Critical  string
	Team      string
	TaskQueue string
}

type Fanout struct {
	store     Store
	publisher pubsub.Publisher
	tasks     queue.Enqueuer
	topics    Topics
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

func New(store Store, publisher pubsub.Publisher, tasks queue.Enqueuer, topics Topics) *Fanout {
	return &Fanout{
		store:     store,
		publisher: publisher,
		tasks:     tasks,
		topics:    topics,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    slog.With("stage", lifecycle.StageNotification),
	}
}

type Result struct {
	EmergencyID     string        `json:"emergency_id"`
	Status          models.Status `json:"status"`
	SentCount       int           `json:"notifications_sent"`
	TeamIDs         []string      `json:"teams_notified"`
	NotifiedAt      *time.Time    `json:"notification_timestamp,omitempty"`
	AlreadyNotified bool          `json:"already_notified,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Specialties lists the team specialties paged for an emergency.
func Specialties(t models.EmergencyType, s models.Severity) []string {
	urgent := s == models.SeverityCritical || s == models.SeverityHigh

	switch t {
	case models.EmergencyTypeNaturalDisaster:
		if urgent {
			return []string{"emergency-response", "medical", "evacuation", "shelter"}
		}
		return []string{"emergency-response", "shelter"}
	case models.EmergencyTypeInfrastructureFailure:
		if urgent {
			return []string{"it-emergency", "network", "database", "application"}
		}
		return []string{"it-emergency", "application"}
	case models.EmergencyTypeSecurityIncident:
		if urgent {
			return []string{"security", "forensics", "network", "communications"}
		}
		return []string{"security", "network"}
	case models.EmergencyTypeGeneral:
		return []string{"emergency-response"}
	}
	return []string{"emergency-response"}
}

type alert struct {
	EmergencyID   string               `json:"emergency_id"`
	EmergencyType models.EmergencyType `json:"emergency_type"`
	Severity      models.Severity      `json:"severity"`
	Location      string               `json:"location"`
	Timestamp     time.Time            `json:"timestamp"`
	Message       string               `json:"message"`
	Assessment    string               `json:"assessment,omitempty"`
	TeamID        string               `json:"team_id,omitempty"`
	TeamName      string               `json:"team_name,omitempty"`
}

// Teams collects the available teams for every specialty. A team listed
// under two specialties appears twice.
func (f *Fanout) Teams(ctx context.Context, e *models.Emergency) ([]models.Team, error) {
	var teams []models.Team
	for _, sp := range Specialties(e.Type, e.Severity) {
		found, err := f.store.ListAvailableTeams(ctx, sp)
		if err != nil {
			return nil, fmt.Errorf("listing %s teams: %w", sp, err)
		}
		teams = append(teams, found...)
	}
	return teams, nil
}

// Notify broadcasts the alert, pages each team and queues their tasks. It
// returns the number of teams reached and their ids.
func (f *Fanout) Notify(ctx context.Context, e *models.Emergency) (int, []string, error) {
	teams, err := f.Teams(ctx, e)
	if err != nil {
		return 0, nil, err
	}

	now := f.now()
	base := alert{
		EmergencyID:   e.ID,
		EmergencyType: e.Type,
		Severity:      e.Severity,
		Location:      e.Location,
		Timestamp:     now,
		Message:       fmt.Sprintf("EMERGENCY ALERT: %s at %s. Severity: %s.", e.Type, e.Location, e.Severity),
		Assessment:    e.Assessment,
	}

	if err := f.broadcast(ctx, e, base); err != nil {
		return 0, nil, err
	}

	if f.topics.Team != "" {
		for _, team := range teams {
			msg := base
			msg.TeamID = team.ID
			msg.TeamName = team.DisplayName()
			msg.Message = fmt.Sprintf("TEAM ALERT: %s is requested for %s at %s. Severity: %s.",
				team.DisplayName(), e.Type, e.Location, e.Severity)

			body, err := json.Marshal(msg)
			if err != nil {
				return 0, nil, fmt.Errorf("error encoding team alert: %w", err)
			}
			err = f.publisher.Publish(ctx, f.topics.Team, pubsub.Message{
				Subject: fmt.Sprintf("TEAM ALERT: %s", e.Type),
				Body:    string(body),
				Attributes: map[string]string{
					"team_id":   team.ID,
					"team_name": team.DisplayName(),
				},
			})
			if err != nil {
				return 0, nil, fmt.Errorf("paging team %s: %w", team.ID, err)
			}
		}
	}

	if f.topics.TaskQueue != "" && f.tasks != nil {
		for _, team := range teams {
			// Each listing gets its own task, including a team listed twice.
			task := models.Task{
				ID:          f.newID(),
				EmergencyID: e.ID,
				TeamID:      team.ID,
				TaskType:    models.TaskTypeRespond,
				Priority:    e.Severity.Priority(),
				Description: fmt.Sprintf("Respond to %s at %s", e.Type, e.Location),
				CreatedAt:   now,
			}
			body, err := json.Marshal(task)
			if err != nil {
				return 0, nil, fmt.Errorf("error encoding task: %w", err)
			}
			if err := f.tasks.Enqueue(ctx, f.topics.TaskQueue, e.ID, body); err != nil {
				return 0, nil, fmt.Errorf("queueing task for team %s: %w", team.ID, err)
			}
		}
	}

	ids := make([]string, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}
	return len(teams), ids, nil
}

func (f *Fanout) broadcast(ctx context.Context, e *models.Emergency, msg alert) error {
	topic := f.topics.Alert
	subject := fmt.Sprintf("EMERGENCY ALERT: %s", e.Type)
	if e.Severity == models.SeverityCritical && f.topics.Critical != "" {
		topic = f.topics.Critical
		subject = fmt.Sprintf("CRITICAL EMERGENCY ALERT: %s", e.Type)
	}
	if topic == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error encoding alert: %w", err)
	}
	err = f.publisher.Publish(ctx, topic, pubsub.Message{
		Subject: subject,
		Body:    string(body),
		Attributes: map[string]string{
			"emergency_type": string(e.Type),
			"severity":       string(e.Severity),
		},
	})
	if err != nil {
		return fmt.Errorf("publishing alert to %s: %w", topic, err)
	}
	return nil
}

// Run is the notification stage for one emergency. It leaves the status
// alone and sets the notifications-sent marker.
func (f *Fanout) Run(ctx context.Context, id string) (*Result, error) {
	const op = "notify"
	logger := f.logger.With("emergency_id", id)

	e, err := f.store.GetEmergency(ctx, id)
	if err != nil {
		return nil, stage.Wrap(stage.KindOf(err), op, err)
	}

	switch lifecycle.Check(lifecycle.StageNotification, e.Status) {
	case lifecycle.GateBlocked:
		return &Result{EmergencyID: id, Status: e.Status, Error: "not assessed"},
			stage.Errorf(stage.KindInvalidState, op, "cannot notify for emergency in status %s", e.Status)
	case lifecycle.GateCompleted, lifecycle.GateEnter:
	}
	if e.NotificationsSent {
		logger.Info("notifications already sent")
		return &Result{
			EmergencyID:     id,
			Status:          models.StatusNotificationsSent,
			SentCount:       len(e.TeamsNotified),
			TeamIDs:         e.TeamsNotified,
			NotifiedAt:      e.NotifiedAt,
			AlreadyNotified: true,
		}, nil
	}

	entry := lifecycle.EntryStatuses(lifecycle.StageNotification)
	sent, teamIDs, err := f.Notify(ctx, e)
	if err != nil {
		stage.RecordFailure(ctx, f.store, id, "", err, logger, entry...)
		return &Result{EmergencyID: id, Status: e.Status, Error: err.Error()},
			stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}

	at := f.now()
	if teamIDs == nil {
		teamIDs = []string{}
	}
	err = f.store.UpdateEmergency(ctx, id, models.EmergencyPatch{
		NotificationsSent: models.Ptr(true),
		TeamsNotified:     teamIDs,
		NotifiedAt:        &at,
	}, entry...)
	if errors.Is(err, repository.ErrConflict) {
		return nil, stage.Wrap(stage.KindConflict, op, err)
	}
	if err != nil {
		stage.RecordFailure(ctx, f.store, id, "", err, logger, entry...)
		return &Result{EmergencyID: id, Status: e.Status, Error: err.Error()},
			stage.Wrap(stage.KindCollaboratorFailure, op, err)
	}

	logger.Info("notifications sent", "teams", sent, "severity", e.Severity)
	return &Result{
		EmergencyID: id,
		Status:      models.StatusNotificationsSent,
		SentCount:   sent,
		TeamIDs:     teamIDs,
		NotifiedAt:  &at,
	}, nil
}
