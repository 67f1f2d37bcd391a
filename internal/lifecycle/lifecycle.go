// Package lifecycle holds the emergency status state machine and the
// per-stage entry gates that keep re-driven stages idempotent.
package lifecycle

import (
	"fmt"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

type Stage string

const (
	StageDispatch     Stage = "dispatch"
	StageAssessment   Stage = "assessment"
	StageAllocation   Stage = "allocation"
	StageNotification Stage = "notification"
	StageReport       Stage = "report"
)

var Stages = []Stage{StageDispatch, StageAssessment, StageAllocation, StageNotification, StageReport}

func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage: %q", s)
}

type Gate int

const (
	// GateEnter means the stage may run.
	GateEnter Gate = iota
	// GateCompleted means the record is already past the stage.
	GateCompleted
	// GateBlocked means the record has not reached the stage yet.
	GateBlocked
)

func (g Gate) String() string {
	switch g {
	case GateEnter:
		return "enter"
	case GateCompleted:
		return "completed"
	case GateBlocked:
		return "blocked"
	}
	return fmt.Sprintf("gate(%d)", int(g))
}

var edges = map[models.Status][]models.Status{
	models.StatusInitiated:               {models.StatusAssessing},
	models.StatusAssessing:               {models.StatusAssessed, models.StatusAssessmentError},
	models.StatusAssessed:                {models.StatusAllocatingResources},
	models.StatusAllocatingResources:     {models.StatusResourcesAllocated, models.StatusResourceAllocationError},
	models.StatusResourcesAllocated:      {models.StatusReportGenerated, models.StatusReportError},
	models.StatusReportGenerated:         nil,
	models.StatusNotificationsSent:       nil,
	models.StatusAssessmentError:         {models.StatusAssessing},
	models.StatusResourceAllocationError: {models.StatusAllocatingResources},
	models.StatusReportError:             {models.StatusReportGenerated, models.StatusReportError},
}

// CanTransition reports whether to is a legal successor of from. Error
// statuses only lead back to their stage's in-progress status (a re-drive).
func CanTransition(from, to models.Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Rank orders the happy path. Error statuses rank with the in-progress
// status they interrupted.
func Rank(s models.Status) int {
	switch s {
	case models.StatusInitiated:
		return 0
	case models.StatusAssessing, models.StatusAssessmentError:
		return 1
	case models.StatusAssessed:
		return 2
	case models.StatusAllocatingResources, models.StatusResourceAllocationError:
		return 3
	case models.StatusResourcesAllocated, models.StatusReportError:
		return 4
	case models.StatusReportGenerated:
		return 5
	case models.StatusNotificationsSent:
		// The marker is never stored as a status.
		return -1
	}
	return -1
}

// EntryStatuses are the statuses from which a stage may start; they are also
// the condition of the stage's in-progress write.
func EntryStatuses(stage Stage) []models.Status {
	switch stage {
	case StageDispatch:
		return []models.Status{models.StatusInitiated}
	case StageAssessment:
		return []models.Status{models.StatusInitiated, models.StatusAssessing, models.StatusAssessmentError}
	case StageAllocation:
		return []models.Status{models.StatusAssessed, models.StatusAllocatingResources, models.StatusResourceAllocationError}
	case StageNotification:
		return []models.Status{models.StatusAssessed, models.StatusAllocatingResources, models.StatusResourcesAllocated,
			models.StatusReportGenerated, models.StatusResourceAllocationError, models.StatusReportError}
	case StageReport:
		return []models.Status{models.StatusResourcesAllocated, models.StatusReportError}
	}
	return nil
}

// InProgress is the status a stage holds while running, and ErrorStatus the
// one it records on failure. Stages without one return "".
func InProgress(stage Stage) models.Status {
	switch stage {
	case StageAssessment:
		return models.StatusAssessing
	case StageAllocation:
		return models.StatusAllocatingResources
	}
	return ""
}

func ErrorStatus(stage Stage) models.Status {
	switch stage {
	case StageAssessment:
		return models.StatusAssessmentError
	case StageAllocation:
		return models.StatusResourceAllocationError
	case StageReport:
		return models.StatusReportError
	}
	return ""
}

// Check decides whether stage may run against a record in status.
func Check(stage Stage, status models.Status) Gate {
	switch stage {
	case StageDispatch:
		return checkDispatch(status)
	case StageAssessment:
		return checkAssessment(status)
	case StageAllocation:
		return checkAllocation(status)
	case StageNotification:
		return checkNotification(status)
	case StageReport:
		return checkReport(status)
	}
	return GateBlocked
}

func checkDispatch(status models.Status) Gate {
	switch status {
	case models.StatusInitiated:
		return GateEnter
	case models.StatusAssessing, models.StatusAssessed, models.StatusAllocatingResources,
		models.StatusResourcesAllocated, models.StatusReportGenerated, models.StatusNotificationsSent,
		models.StatusAssessmentError, models.StatusResourceAllocationError, models.StatusReportError:
		return GateCompleted
	}
	return GateBlocked
}

func checkAssessment(status models.Status) Gate {
	switch status {
	case models.StatusInitiated, models.StatusAssessing, models.StatusAssessmentError:
		return GateEnter
	case models.StatusAssessed, models.StatusAllocatingResources, models.StatusResourcesAllocated,
		models.StatusReportGenerated, models.StatusNotificationsSent,
		models.StatusResourceAllocationError, models.StatusReportError:
		return GateCompleted
	}
	return GateBlocked
}

func checkAllocation(status models.Status) Gate {
	switch status {
	case models.StatusAssessed, models.StatusAllocatingResources, models.StatusResourceAllocationError:
		return GateEnter
	case models.StatusResourcesAllocated, models.StatusReportGenerated, models.StatusReportError,
		models.StatusNotificationsSent:
		return GateCompleted
	case models.StatusInitiated, models.StatusAssessing, models.StatusAssessmentError:
		return GateBlocked
	}
	return GateBlocked
}

// Notification does not advance the status, so it never reports completed
// from status alone; callers check the NotificationsSent marker.
func checkNotification(status models.Status) Gate {
	switch status {
	case models.StatusAssessed, models.StatusAllocatingResources, models.StatusResourcesAllocated,
		models.StatusReportGenerated, models.StatusResourceAllocationError, models.StatusReportError,
		models.StatusNotificationsSent:
		return GateEnter
	case models.StatusInitiated, models.StatusAssessing, models.StatusAssessmentError:
		return GateBlocked
	}
	return GateBlocked
}

func checkReport(status models.Status) Gate {
	switch status {
	case models.StatusResourcesAllocated, models.StatusReportError:
		return GateEnter
	case models.StatusReportGenerated, models.StatusNotificationsSent:
		return GateCompleted
	case models.StatusInitiated, models.StatusAssessing, models.StatusAssessed,
		models.StatusAllocatingResources, models.StatusAssessmentError, models.StatusResourceAllocationError:
		return GateBlocked
	}
	return GateBlocked
}
