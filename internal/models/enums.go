package models

import (
	"fmt"
	"strings"
)

type EmergencyType string

const (
	EmergencyTypeNaturalDisaster       EmergencyType = "NATURAL_DISASTER"
	EmergencyTypeInfrastructureFailure EmergencyType = "INFRASTRUCTURE_FAILURE"
	EmergencyTypeSecurityIncident      EmergencyType = "SECURITY_INCIDENT"
	EmergencyTypeGeneral               EmergencyType = "GENERAL_EMERGENCY"
)

// EmergencyTypes lists every classification in priority order.
var EmergencyTypes = []EmergencyType{
	EmergencyTypeNaturalDisaster,
	EmergencyTypeInfrastructureFailure,
	EmergencyTypeSecurityIncident,
	EmergencyTypeGeneral,
}

func (t EmergencyType) Valid() bool {
	switch t {
	case EmergencyTypeNaturalDisaster, EmergencyTypeInfrastructureFailure,
		EmergencyTypeSecurityIncident, EmergencyTypeGeneral:
		return true
	}
	return false
}

func ParseEmergencyType(s string) (EmergencyType, error) {
	t := EmergencyType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown emergency type: %q", s)
	}
	return t, nil
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Priority is the task priority for a severity; lower is more urgent.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 4
	}
	return 3
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity: %q", s)
	}
	return sev, nil
}

type Status string

const (
	StatusInitiated               Status = "INITIATED"
	StatusAssessing               Status = "ASSESSING"
	StatusAssessed                Status = "ASSESSED"
	StatusAllocatingResources     Status = "ALLOCATING_RESOURCES"
	StatusResourcesAllocated      Status = "RESOURCES_ALLOCATED"
	StatusReportGenerated         Status = "REPORT_GENERATED"
	StatusNotificationsSent       Status = "NOTIFICATIONS_SENT"
	StatusAssessmentError         Status = "ASSESSMENT_ERROR"
	StatusResourceAllocationError Status = "RESOURCE_ALLOCATION_ERROR"
	StatusReportError             Status = "REPORT_ERROR"
)

// Statuses lists every lifecycle status, including the notification marker.
var Statuses = []Status{
	StatusInitiated,
	StatusAssessing,
	StatusAssessed,
	StatusAllocatingResources,
	StatusResourcesAllocated,
	StatusReportGenerated,
	StatusNotificationsSent,
	StatusAssessmentError,
	StatusResourceAllocationError,
	StatusReportError,
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status: %q", s)
	}
	return st, nil
}

type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "AVAILABLE"
	AvailabilityAllocated AvailabilityStatus = "ALLOCATED"
)

func (a AvailabilityStatus) Valid() bool {
	return a == AvailabilityAvailable || a == AvailabilityAllocated
}
