// Package classifier assigns a type and severity to a raw intake.
package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

const defaultScore = 3

type keywordRule struct {
	Type     models.EmergencyType
	Keywords []string
}

// Rules are checked in order; the first rule with a matching keyword wins.
var rules = []keywordRule{
	{models.EmergencyTypeNaturalDisaster, []string{"flood", "earthquake", "hurricane", "tornado", "wildfire", "tsunami"}},
	{models.EmergencyTypeInfrastructureFailure, []string{"outage", "failure", "downtime", "unavailable", "crash"}},
	{models.EmergencyTypeSecurityIncident, []string{"breach", "attack", "hack", "malware", "ransomware", "phishing"}},
}

type Classification struct {
	Type     models.EmergencyType
	Severity models.Severity
}

// Classify resolves type and severity for an intake. Explicit values win over
// inference; an explicit value outside the known set is rejected.
func Classify(in models.Intake) (Classification, error) {
	typ, ok, err := in.ExplicitType()
	if err != nil {
		return Classification{}, fmt.Errorf("invalid emergency_type: %w", err)
	}
	if !ok {
		typ = DetectType(in)
	}

	sev, ok, err := in.ExplicitSeverity()
	if err != nil {
		return Classification{}, fmt.Errorf("invalid severity: %w", err)
	}
	if !ok {
		sev = CalculateSeverity(in)
	}

	return Classification{Type: typ, Severity: sev}, nil
}

// DetectType scans the canonical JSON form of the intake for keywords.
// encoding/json sorts map keys, so equal intakes always serialize the same.
func DetectType(in models.Intake) models.EmergencyType {
	raw, err := json.Marshal(in)
	if err != nil {
		return models.EmergencyTypeGeneral
	}
	text := strings.ToLower(string(raw))

	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Type
			}
		}
	}
	return models.EmergencyTypeGeneral
}

func CalculateSeverity(in models.Intake) models.Severity {
	impact := in.Score("impact_score", defaultScore)
	urgency := in.Score("urgency_score", defaultScore)
	return SeverityForScore(impact * urgency)
}

func SeverityForScore(score int) models.Severity {
	switch {
	case score >= 12:
		return models.SeverityCritical
	case score >= 8:
		return models.SeverityHigh
	case score >= 4:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
