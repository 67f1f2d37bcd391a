package models

import (
	"time"
)

// Emergency is the record one incident accumulates over its lifecycle.
type Emergency struct {
	ID                   string         `json:"emergency_id" dynamodbav:"emergency_id"`
	Type                 EmergencyType  `json:"emergency_type" dynamodbav:"emergency_type"`
	Severity             Severity       `json:"severity" dynamodbav:"severity"`
	Location             string         `json:"location" dynamodbav:"location"`
	Coordinates          *Coordinates   `json:"coordinates,omitempty" dynamodbav:"coordinates,omitempty"`
	AffectedResources    []string       `json:"affected_resources" dynamodbav:"affected_resources"`
	EventData            map[string]any `json:"event_data,omitempty" dynamodbav:"event_data,omitempty"`
	SourceRef            string         `json:"source_ref,omitempty" dynamodbav:"source_ref,omitempty"` // feed id, e.g. "usgs_us7000abcd"
	Status               Status         `json:"status" dynamodbav:"status"`
	Assessment           string         `json:"assessment,omitempty" dynamodbav:"assessment,omitempty"`
	RecommendedResources []string       `json:"recommended_resources,omitempty" dynamodbav:"recommended_resources,omitempty"`
	AllocatedResources   []Resource     `json:"allocated_resources,omitempty" dynamodbav:"allocated_resources,omitempty"`
	SituationReport      string         `json:"situation_report,omitempty" dynamodbav:"situation_report,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	NotificationsSent    bool           `json:"notifications_sent" dynamodbav:"notifications_sent"`
	TeamsNotified        []string       `json:"teams_notified,omitempty" dynamodbav:"teams_notified,omitempty"`
	WorkflowExecution    string         `json:"workflow_execution_arn,omitempty" dynamodbav:"workflow_execution_arn,omitempty"`
	Timestamp            time.Time      `json:"timestamp" dynamodbav:"timestamp"`
	AssessedAt           *time.Time     `json:"assessment_timestamp,omitempty" dynamodbav:"assessment_timestamp,omitempty"`
	AllocatedAt          *time.Time     `json:"allocation_timestamp,omitempty" dynamodbav:"allocation_timestamp,omitempty"`
	NotifiedAt           *time.Time     `json:"notification_timestamp,omitempty" dynamodbav:"notification_timestamp,omitempty"`
	ReportedAt           *time.Time     `json:"report_timestamp,omitempty" dynamodbav:"report_timestamp,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at" dynamodbav:"updated_at"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude" dynamodbav:"latitude"`
	Longitude float64 `json:"longitude" dynamodbav:"longitude"`
}

// EmergencyPatch lists the fields a stage or operator may change on an
// existing record. Nil fields are left untouched; a non-nil empty slice
// clears the stored list.
type EmergencyPatch struct {
	Status               *Status
	Severity             *Severity
	Assessment           *string
	RecommendedResources []string
	AllocatedResources   []Resource
	SituationReport      *string
	ErrorMessage         *string
	NotificationsSent    *bool
	TeamsNotified        []string
	WorkflowExecution    *string
	AssessedAt           *time.Time
	AllocatedAt          *time.Time
	NotifiedAt           *time.Time
	ReportedAt           *time.Time
}

func (p EmergencyPatch) Empty() bool {
	return p.Status == nil && p.Severity == nil && p.Assessment == nil &&
		p.RecommendedResources == nil && p.AllocatedResources == nil &&
		p.SituationReport == nil && p.ErrorMessage == nil && p.NotificationsSent == nil &&
		p.TeamsNotified == nil && p.WorkflowExecution == nil && p.AssessedAt == nil &&
		p.AllocatedAt == nil && p.NotifiedAt == nil && p.ReportedAt == nil
}

// Apply copies the patch onto e. Stores use it to keep in-memory views and
// tests consistent with what they persist.
func (p EmergencyPatch) Apply(e *Emergency) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Severity != nil {
		e.Severity = *p.Severity
	}
	if p.Assessment != nil {
		e.Assessment = *p.Assessment
	}
	if p.RecommendedResources != nil {
		e.RecommendedResources = p.RecommendedResources
	}
	if p.AllocatedResources != nil {
		e.AllocatedResources = p.AllocatedResources
	}
	if p.SituationReport != nil {
		e.SituationReport = *p.SituationReport
	}
	if p.ErrorMessage != nil {
		e.ErrorMessage = *p.ErrorMessage
	}
	if p.NotificationsSent != nil {
		e.NotificationsSent = *p.NotificationsSent
	}
	if p.TeamsNotified != nil {
		e.TeamsNotified = p.TeamsNotified
	}
	if p.WorkflowExecution != nil {
		e.WorkflowExecution = *p.WorkflowExecution
	}
	if p.AssessedAt != nil {
		e.AssessedAt = p.AssessedAt
	}
	if p.AllocatedAt != nil {
		e.AllocatedAt = p.AllocatedAt
	}
	if p.NotifiedAt != nil {
		e.NotifiedAt = p.NotifiedAt
	}
	if p.ReportedAt != nil {
		e.ReportedAt = p.ReportedAt
	}
}

// UpdateRequest is the operator-facing update. Only severity and status can
// be changed after intake.
type UpdateRequest struct {
	Severity *Severity `json:"severity,omitempty"`
	Status   *Status   `json:"status,omitempty"`
}

// LifecycleEvent is published for external subscribers when a workflow
// starts for an emergency.
type LifecycleEvent struct {
	EmergencyID       string        `json:"emergency_id"`
	EmergencyType     EmergencyType `json:"emergency_type"`
	Severity          Severity      `json:"severity"`
	Status            Status        `json:"status"`
	WorkflowExecution string        `json:"workflow_execution_arn"`
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
