package models

import "time"

type Resource struct {
	ID           string             `json:"resource_id" dynamodbav:"resource_id" yaml:"id"`
	Type         string             `json:"resource_type" dynamodbav:"resource_type" yaml:"type"`
	Name         string             `json:"name,omitempty" dynamodbav:"name,omitempty" yaml:"name"`
	Availability AvailabilityStatus `json:"availability_status" dynamodbav:"availability_status" yaml:"availability"`
	AllocatedTo  string             `json:"allocated_to,omitempty" dynamodbav:"allocated_to,omitempty" yaml:"-"`
	AllocatedAt  *time.Time         `json:"allocation_timestamp,omitempty" dynamodbav:"allocation_timestamp,omitempty" yaml:"-"`
}

type Team struct {
	ID           string             `json:"team_id" dynamodbav:"team_id" yaml:"id"`
	Name         string             `json:"team_name,omitempty" dynamodbav:"team_name,omitempty" yaml:"name"`
	Specialty    string             `json:"specialty" dynamodbav:"specialty" yaml:"specialty"`
	Availability AvailabilityStatus `json:"availability_status" dynamodbav:"availability_status" yaml:"availability"`
}

// DisplayName falls back to a generic label for unnamed teams.
func (t Team) DisplayName() string {
	if t.Name == "" {
		return "Response Team"
	}
	return t.Name
}

const TaskTypeRespond = "RESPOND"

// Task is a unit of work handed to a response team through the task queue.
type Task struct {
	ID          string    `json:"task_id"`
	EmergencyID string    `json:"emergency_id"`
	TeamID      string    `json:"team_id"`
	TaskType    string    `json:"task_type"`
	Priority    int       `json:"priority"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
