package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS emergencies (
			emergency_id TEXT PRIMARY KEY,
			emergency_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			location TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			affected_resources TEXT NOT NULL DEFAULT '[]',
			event_data TEXT,
			source_ref TEXT,
			status TEXT NOT NULL,
			assessment TEXT NOT NULL DEFAULT '',
			recommended_resources TEXT,
			allocated_resources TEXT,
			situation_report TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			notifications_sent INTEGER NOT NULL DEFAULT 0,
			teams_notified TEXT,
			workflow_execution_arn TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			assessment_timestamp TEXT,
			allocation_timestamp TEXT,
			notification_timestamp TEXT,
			report_timestamp TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS resources (
			resource_id TEXT PRIMARY KEY,
			resource_type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			availability_status TEXT NOT NULL,
			allocated_to TEXT,
			allocation_timestamp TEXT
		);

		CREATE TABLE IF NOT EXISTS teams (
			team_id TEXT PRIMARY KEY,
			team_name TEXT NOT NULL DEFAULT '',
			specialty TEXT NOT NULL,
			availability_status TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_emergencies_status ON emergencies(status);
		CREATE INDEX IF NOT EXISTS idx_emergencies_type_severity ON emergencies(emergency_type, severity);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_emergencies_source_ref ON emergencies(source_ref) WHERE source_ref IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_resources_type_status ON resources(resource_type, availability_status);
		CREATE INDEX IF NOT EXISTS idx_resources_allocated_to ON resources(allocated_to);
		CREATE INDEX IF NOT EXISTS idx_teams_specialty ON teams(specialty, availability_status);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const emergencyColumns = `emergency_id, emergency_type, severity, location, latitude, longitude,
	affected_resources, event_data, source_ref, status, assessment, recommended_resources,
	allocated_resources, situation_report, error_message, notifications_sent, teams_notified,
	workflow_execution_arn, timestamp, assessment_timestamp, allocation_timestamp,
	notification_timestamp, report_timestamp, updated_at`

func (s *SQLiteDB) CreateEmergency(ctx context.Context, e *models.Emergency) error {
	affected, err := marshalJSON(e.AffectedResources)
	if err != nil {
		return err
	}
	if affected == nil {
		affected = "[]"
	}
	eventData, err := marshalJSON(e.EventData)
	if err != nil {
		return err
	}
	recommended, err := marshalJSON(e.RecommendedResources)
	if err != nil {
		return err
	}
	allocated, err := marshalJSON(e.AllocatedResources)
	if err != nil {
		return err
	}
	teams, err := marshalJSON(e.TeamsNotified)
	if err != nil {
		return err
	}

	var lat, lon any
	if e.Coordinates != nil {
		lat, lon = e.Coordinates.Latitude, e.Coordinates.Longitude
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.Timestamp
	}

	query := `INSERT INTO emergencies (` + emergencyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, string(e.Type), string(e.Severity), e.Location, lat, lon,
		affected, eventData, nullString(e.SourceRef), string(e.Status), e.Assessment, recommended,
		allocated, e.SituationReport, e.ErrorMessage, e.NotificationsSent, teams,
		e.WorkflowExecution, formatTime(e.Timestamp), formatTimePtr(e.AssessedAt), formatTimePtr(e.AllocatedAt),
		formatTimePtr(e.NotifiedAt), formatTimePtr(e.ReportedAt), formatTime(updated),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("emergency %s: %w", e.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("error inserting emergency: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetEmergency(ctx context.Context, id string) (*models.Emergency, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emergencyColumns+` FROM emergencies WHERE emergency_id = ?`, id)
	e, err := scanEmergency(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("emergency %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading emergency: %w", err)
	}
	return e, nil
}

func (s *SQLiteDB) ExistsBySourceRef(ctx context.Context, ref string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM emergencies WHERE source_ref = ?`, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("error checking source ref: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteDB) ListEmergencies(ctx context.Context, opts Filter) ([]models.Emergency, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies WHERE 1=1`
	var args []any

	if opts.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*opts.Status))
	}
	if opts.Type != nil {
		query += ` AND emergency_type = ?`
		args = append(args, string(*opts.Type))
	}
	if opts.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, string(*opts.Severity))
	}
	query += ` ORDER BY timestamp DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing emergencies: %w", err)
	}
	defer rows.Close()

	var out []models.Emergency
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning emergency: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	addJSON := func(col string, v any) error {
		raw, err := marshalJSON(v)
		if err != nil {
			return err
		}
		add(col, raw)
		return nil
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Severity != nil {
		add("severity", string(*patch.Severity))
	}
	if patch.Assessment != nil {
		add("assessment", *patch.Assessment)
	}
	if patch.RecommendedResources != nil {
		if err := addJSON("recommended_resources", patch.RecommendedResources); err != nil {
			return err
		}
	}
	if patch.AllocatedResources != nil {
		if err := addJSON("allocated_resources", patch.AllocatedResources); err != nil {
			return err
		}
	}
	if patch.SituationReport != nil {
		add("situation_report", *patch.SituationReport)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.NotificationsSent != nil {
		add("notifications_sent", *patch.NotificationsSent)
	}
	if patch.TeamsNotified != nil {
		if err := addJSON("teams_notified", patch.TeamsNotified); err != nil {
			return err
		}
	}
	if patch.WorkflowExecution != nil {
		add("workflow_execution_arn", *patch.WorkflowExecution)
	}
	if patch.AssessedAt != nil {
		add("assessment_timestamp", formatTime(*patch.AssessedAt))
	}
	if patch.AllocatedAt != nil {
		add("allocation_timestamp", formatTime(*patch.AllocatedAt))
	}
	if patch.NotifiedAt != nil {
		add("notification_timestamp", formatTime(*patch.NotifiedAt))
	}
	if patch.ReportedAt != nil {
		add("report_timestamp", formatTime(*patch.ReportedAt))
	}

	query := `UPDATE emergencies SET ` + strings.Join(sets, ", ") + ` WHERE emergency_id = ?`
	args = append(args, id)
	if len(expect) > 0 {
		query += ` AND status IN (` + placeholders(len(expect)) + `)`
		for _, st := range expect {
			args = append(args, string(st))
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating emergency: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return s.missOrConflict(ctx, "emergencies", "emergency_id", id)
	}
	return nil
}

func (s *SQLiteDB) PutResource(ctx context.Context, r *models.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resources (resource_id, resource_type, name, availability_status, allocated_to, allocation_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			resource_type = excluded.resource_type,
			name = excluded.name,
			availability_status = excluded.availability_status,
			allocated_to = excluded.allocated_to,
			allocation_timestamp = excluded.allocation_timestamp`,
		r.ID, r.Type, r.Name, string(r.Availability), nullString(r.AllocatedTo), formatTimePtr(r.AllocatedAt),
	)
	if err != nil {
		return fmt.Errorf("error saving resource: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_id, resource_type, name, availability_status, allocated_to, allocation_timestamp
		FROM resources WHERE resource_id = ?`, id)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading resource: %w", err)
	}
	return r, nil
}

func (s *SQLiteDB) ListAvailableResources(ctx context.Context, resourceType string) ([]models.Resource, error) {
	return s.listResources(ctx, `WHERE resource_type = ? AND availability_status = ?`,
		resourceType, string(models.AvailabilityAvailable))
}

func (s *SQLiteDB) ListResourcesAllocatedTo(ctx context.Context, emergencyID string) ([]models.Resource, error) {
	return s.listResources(ctx, `WHERE allocated_to = ? AND availability_status = ?`,
		emergencyID, string(models.AvailabilityAllocated))
}

func (s *SQLiteDB) listResources(ctx context.Context, where string, args ...any) ([]models.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, resource_type, name, availability_status, allocated_to, allocation_timestamp
		FROM resources `+where+` ORDER BY resource_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing resources: %w", err)
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning resource: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE resources
		SET availability_status = ?, allocated_to = ?, allocation_timestamp = ?
		WHERE resource_id = ? AND availability_status = ?`,
		string(models.AvailabilityAllocated), emergencyID, formatTime(at),
		resourceID, string(models.AvailabilityAvailable),
	)
	if err != nil {
		return nil, fmt.Errorf("error claiming resource: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 0 {
		return nil, s.missOrConflict(ctx, "resources", "resource_id", resourceID)
	}
	return s.GetResource(ctx, resourceID)
}

func (s *SQLiteDB) PutTeam(ctx context.Context, t *models.Team) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (team_id, team_name, specialty, availability_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(team_id) DO UPDATE SET
			team_name = excluded.team_name,
			specialty = excluded.specialty,
			availability_status = excluded.availability_status`,
		t.ID, t.Name, t.Specialty, string(t.Availability),
	)
	if err != nil {
		return fmt.Errorf("error saving team: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAvailableTeams(ctx context.Context, specialty string) ([]models.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT team_id, team_name, specialty, availability_status
		FROM teams WHERE specialty = ? AND availability_status = ?
		ORDER BY team_id`, specialty, string(models.AvailabilityAvailable))
	if err != nil {
		return nil, fmt.Errorf("error listing teams: %w", err)
	}
	defer rows.Close()

	var out []models.Team
	for rows.Next() {
		var t models.Team
		var availability string
		if err := rows.Scan(&t.ID, &t.Name, &t.Specialty, &availability); err != nil {
			return nil, fmt.Errorf("error scanning team: %w", err)
		}
		t.Availability = models.AvailabilityStatus(availability)
		out = append(out, t)
	}
	return out, rows.Err()
}

// missOrConflict explains a zero-row conditional write.
func (s *SQLiteDB) missOrConflict(ctx context.Context, table, key, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+` WHERE `+key+` = ?`, id).Scan(&n)
	if err != nil {
		return fmt.Errorf("error checking %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, ErrConflict)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmergency(row scanner) (*models.Emergency, error) {
	var (
		e                                                   models.Emergency
		typ, severity, status                               string
		lat, lon                                            sql.NullFloat64
		affected                                            string
		eventData, sourceRef, recommended, allocated, teams sql.NullString
		timestamp, updatedAt                                string
		assessedAt, allocatedAt, notifiedAt, reportedAt     sql.NullString
	)

	err := row.Scan(
		&e.ID, &typ, &severity, &e.Location, &lat, &lon,
		&affected, &eventData, &sourceRef, &status, &e.Assessment, &recommended,
		&allocated, &e.SituationReport, &e.ErrorMessage, &e.NotificationsSent, &teams,
		&e.WorkflowExecution, &timestamp, &assessedAt, &allocatedAt,
		&notifiedAt, &reportedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = models.EmergencyType(typ)
	e.Severity = models.Severity(severity)
	e.Status = models.Status(status)
	e.SourceRef = sourceRef.String
	if lat.Valid && lon.Valid {
		e.Coordinates = &models.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}

	if err := json.Unmarshal([]byte(affected), &e.AffectedResources); err != nil {
		return nil, fmt.Errorf("affected_resources: %w", err)
	}
	if err := unmarshalNullJSON(eventData, &e.EventData); err != nil {
		return nil, fmt.Errorf("event_data: %w", err)
	}
	if err := unmarshalNullJSON(recommended, &e.RecommendedResources); err != nil {
		return nil, fmt.Errorf("recommended_resources: %w", err)
	}
	if err := unmarshalNullJSON(allocated, &e.AllocatedResources); err != nil {
		return nil, fmt.Errorf("allocated_resources: %w", err)
	}
	if err := unmarshalNullJSON(teams, &e.TeamsNotified); err != nil {
		return nil, fmt.Errorf("teams_notified: %w", err)
	}

	if e.Timestamp, err = parseTime(timestamp); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	for _, ts := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{assessedAt, &e.AssessedAt},
		{allocatedAt, &e.AllocatedAt},
		{notifiedAt, &e.NotifiedAt},
		{reportedAt, &e.ReportedAt},
	} {
		if *ts.dst, err = parseNullTime(ts.src); err != nil {
			return nil, err
		}
	}

	return &e, nil
}

func scanResource(row scanner) (*models.Resource, error) {
	var (
		r            models.Resource
		availability string
		allocatedTo  sql.NullString
		allocatedAt  sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Type, &r.Name, &availability, &allocatedTo, &allocatedAt); err != nil {
		return nil, err
	}
	r.Availability = models.AvailabilityStatus(availability)
	r.AllocatedTo = allocatedTo.String

	var err error
	if r.AllocatedAt, err = parseNullTime(allocatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalJSON(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil, nil
		}
	case []models.Resource:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error encoding column: %w", err)
	}
	return string(raw), nil
}

func unmarshalNullJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
