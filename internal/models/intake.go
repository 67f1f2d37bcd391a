package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const UnknownLocation = "UNKNOWN"

var ErrMissingReportFields = errors.New("reporter_contact and description are required")

// Intake is a raw emergency report: an arbitrary JSON object from the API,
// an event bus envelope, a public report or a feed poller.
type Intake map[string]any

// Unwrap returns the inner object of an event-bus envelope ({"detail": {...}}).
// Any other intake is returned unchanged.
func (in Intake) Unwrap() Intake {
	if detail, ok := in["detail"].(map[string]any); ok {
		return Intake(detail)
	}
	return in
}

func (in Intake) str(key string) (string, bool) {
	v, ok := in[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// ExplicitType returns the caller-supplied emergency type, if present.
// A present but unknown value is an error.
func (in Intake) ExplicitType() (EmergencyType, bool, error) {
	raw, present := in["emergency_type"]
	if !present || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", true, fmt.Errorf("emergency_type must be a string, got %T", raw)
	}
	t, err := ParseEmergencyType(s)
	if err != nil {
		return "", true, err
	}
	return t, true, nil
}

// ExplicitSeverity returns the caller-supplied severity, if present.
func (in Intake) ExplicitSeverity() (Severity, bool, error) {
	raw, present := in["severity"]
	if !present || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", true, fmt.Errorf("severity must be a string, got %T", raw)
	}
	sev, err := ParseSeverity(s)
	if err != nil {
		return "", true, err
	}
	return sev, true, nil
}

// Score reads an integer score. Numbers and numeric strings are accepted;
// anything else yields fallback.
func (in Intake) Score(key string, fallback int) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case float32:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(f)
		}
	}
	return fallback
}

func (in Intake) Location() string {
	if s, ok := in.str("location"); ok {
		return s
	}
	return UnknownLocation
}

func (in Intake) AffectedResources() []string {
	switch v := in["affected_resources"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func (in Intake) SourceRef() string {
	s, _ := in.str("source_ref")
	return s
}

func (in Intake) Coordinates() *Coordinates {
	c, ok := in["coordinates"].(map[string]any)
	if !ok {
		return nil
	}
	lat, latOK := c["latitude"].(float64)
	lon, lonOK := c["longitude"].(float64)
	if !latOK || !lonOK {
		return nil
	}
	return &Coordinates{Latitude: lat, Longitude: lon}
}

// ValidatePublicReport enforces the minimum a citizen report must carry.
func (in Intake) ValidatePublicReport() error {
	_, hasContact := in.str("reporter_contact")
	_, hasDescription := in.str("description")
	if !hasContact || !hasDescription {
		return ErrMissingReportFields
	}
	return nil
}
