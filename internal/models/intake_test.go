package models

import (
	"errors"
	"testing"
)

func TestIntake_Unwrap(t *testing.T) {
	in := Intake{"source": "bus", "detail": map[string]any{"location": "Tokyo"}}
	if got := in.Unwrap().Location(); got != "Tokyo" {
		t.Errorf("expected Tokyo, got %s", got)
	}

	plain := Intake{"location": "Lima"}
	if got := plain.Unwrap().Location(); got != "Lima" {
		t.Errorf("expected Lima, got %s", got)
	}
}

func TestIntake_Score(t *testing.T) {
	tests := []struct {
		name string
		in   Intake
		want int
	}{
		{"number", Intake{"impact_score": float64(4)}, 4},
		{"int", Intake{"impact_score": 2}, 2},
		{"numeric string", Intake{"impact_score": "5"}, 5},
		{"garbage string", Intake{"impact_score": "high"}, 3},
		{"missing", Intake{}, 3},
		{"bool", Intake{"impact_score": true}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Score("impact_score", 3); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIntake_ExplicitType(t *testing.T) {
	typ, ok, err := Intake{"emergency_type": "security_incident"}.ExplicitType()
	if err != nil || !ok || typ != EmergencyTypeSecurityIncident {
		t.Errorf("unexpected result: %s %v %v", typ, ok, err)
	}

	_, ok, err = Intake{}.ExplicitType()
	if ok || err != nil {
		t.Errorf("expected absent, got ok=%v err=%v", ok, err)
	}

	_, ok, err = Intake{"emergency_type": "ALIENS"}.ExplicitType()
	if !ok || err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestIntake_LocationDefault(t *testing.T) {
	if got := (Intake{"location": "  "}).Location(); got != UnknownLocation {
		t.Errorf("expected %s, got %s", UnknownLocation, got)
	}
}

func TestIntake_AffectedResources(t *testing.T) {
	in := Intake{"affected_resources": []any{"db-1", 7, "web-2"}}
	got := in.AffectedResources()
	if len(got) != 2 || got[0] != "db-1" || got[1] != "web-2" {
		t.Errorf("unexpected resources: %v", got)
	}
	if got := (Intake{}).AffectedResources(); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestIntake_ValidatePublicReport(t *testing.T) {
	ok := Intake{"reporter_contact": "555-0100", "description": "smoke on the ridge"}
	if err := ok.ValidatePublicReport(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	missing := Intake{"description": "smoke on the ridge"}
	if err := missing.ValidatePublicReport(); !errors.Is(err, ErrMissingReportFields) {
		t.Errorf("expected ErrMissingReportFields, got %v", err)
	}
}

func TestSeverity_Priority(t *testing.T) {
	tests := map[Severity]int{
		SeverityCritical: 1,
		SeverityHigh:     2,
		SeverityMedium:   3,
		SeverityLow:      4,
		Severity("??"):   3,
	}
	for sev, want := range tests {
		if got := sev.Priority(); got != want {
			t.Errorf("%s.Priority() = %d, want %d", sev, got, want)
		}
	}
}
