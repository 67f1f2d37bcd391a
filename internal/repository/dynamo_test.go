package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

type mockDynamo struct {
	putIn    *dynamodb.PutItemInput
	updateIn *dynamodb.UpdateItemInput
	queryIn  *dynamodb.QueryInput

	getOut    *dynamodb.GetItemOutput
	updateOut *dynamodb.UpdateItemOutput
	queryOut  *dynamodb.QueryOutput
	scanOut   *dynamodb.ScanOutput
	err       error
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putIn = in
	return &dynamodb.PutItemOutput{}, m.err
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getOut == nil {
		return &dynamodb.GetItemOutput{}, m.err
	}
	return m.getOut, m.err
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateIn = in
	if m.err != nil {
		return nil, m.err
	}
	if m.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return m.updateOut, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryIn = in
	if m.queryOut == nil {
		return &dynamodb.QueryOutput{}, m.err
	}
	return m.queryOut, m.err
}

func (m *mockDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanOut == nil {
		return &dynamodb.ScanOutput{}, m.err
	}
	return m.scanOut, m.err
}

var testTables = DynamoTables{Emergencies: "emergencies", Resources: "resources", Teams: "teams"}

func TestNewDynamoStore_RequiresTables(t *testing.T) {
	if _, err := NewDynamoStore(&mockDynamo{}, DynamoTables{Emergencies: "e"}); err == nil {
		t.Error("expected error for missing table names")
	}
}

func TestBuildEmergencyUpdate(t *testing.T) {
	patch := models.EmergencyPatch{
		Status:     models.Ptr(models.StatusAssessed),
		Assessment: models.Ptr("ok"),
	}
	u, cond, err := buildEmergencyUpdate(patch, time.Now(), []models.Status{models.StatusAssessing})
	if err != nil {
		t.Fatalf("buildEmergencyUpdate failed: %v", err)
	}

	if len(u.set) != 3 {
		t.Errorf("expected status, assessment and updated_at, got %v", u.set)
	}
	if !strings.Contains(cond, "attribute_exists(emergency_id)") || !strings.Contains(cond, "#status IN (:expect0)") {
		t.Errorf("unexpected condition: %s", cond)
	}
	if v, ok := u.values[":expect0"].(*types.AttributeValueMemberS); !ok || v.Value != "ASSESSING" {
		t.Errorf("unexpected expect value: %#v", u.values[":expect0"])
	}
	if v, ok := u.values[":status"].(*types.AttributeValueMemberS); !ok || v.Value != "ASSESSED" {
		t.Errorf("unexpected status value: %#v", u.values[":status"])
	}
}

func TestDynamoStore_UpdateEmergency_ConditionMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "missing item",
			err:  &types.ConditionalCheckFailedException{Message: aws.String("failed")},
			want: ErrNotFound,
		},
		{
			name: "wrong status",
			err: &types.ConditionalCheckFailedException{
				Message: aws.String("failed"),
				Item:    map[string]types.AttributeValue{"emergency_id": &types.AttributeValueMemberS{Value: "em-1"}},
			},
			want: ErrConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := NewDynamoStore(&mockDynamo{err: tt.err}, testTables)
			err := store.UpdateEmergency(context.Background(), "em-1",
				models.EmergencyPatch{Status: models.Ptr(models.StatusAssessing)}, models.StatusInitiated)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDynamoStore_ClaimResource(t *testing.T) {
	mock := &mockDynamo{
		updateOut: &dynamodb.UpdateItemOutput{
			Attributes: map[string]types.AttributeValue{
				"resource_id":         &types.AttributeValueMemberS{Value: "r1"},
				"resource_type":       &types.AttributeValueMemberS{Value: "medical-team"},
				"availability_status": &types.AttributeValueMemberS{Value: "ALLOCATED"},
				"allocated_to":        &types.AttributeValueMemberS{Value: "em-1"},
			},
		},
	}
	store, _ := NewDynamoStore(mock, testTables)

	r, err := store.ClaimResource(context.Background(), "r1", "em-1", time.Now())
	if err != nil {
		t.Fatalf("ClaimResource failed: %v", err)
	}
	if r.AllocatedTo != "em-1" || r.Availability != models.AvailabilityAllocated {
		t.Errorf("unexpected resource: %+v", r)
	}
	if aws.ToString(mock.updateIn.ConditionExpression) != "availability_status = :available" {
		t.Errorf("unexpected condition: %s", aws.ToString(mock.updateIn.ConditionExpression))
	}
}

func TestDynamoStore_ClaimResource_Lost(t *testing.T) {
	mock := &mockDynamo{err: &types.ConditionalCheckFailedException{
		Item: map[string]types.AttributeValue{"resource_id": &types.AttributeValueMemberS{Value: "r1"}},
	}}
	store, _ := NewDynamoStore(mock, testTables)

	if _, err := store.ClaimResource(context.Background(), "r1", "em-2", time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestDynamoStore_CreateEmergency_Duplicate(t *testing.T) {
	mock := &mockDynamo{err: &types.ConditionalCheckFailedException{}}
	store, _ := NewDynamoStore(mock, testTables)

	e := &models.Emergency{ID: "em-1", Status: models.StatusInitiated, Timestamp: time.Now()}
	if err := store.CreateEmergency(context.Background(), e); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if aws.ToString(mock.putIn.ConditionExpression) != "attribute_not_exists(emergency_id)" {
		t.Errorf("unexpected condition: %s", aws.ToString(mock.putIn.ConditionExpression))
	}
}

func TestDynamoStore_GetEmergency_NotFound(t *testing.T) {
	store, _ := NewDynamoStore(&mockDynamo{}, testTables)
	if _, err := store.GetEmergency(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoStore_ListEmergencies_UsesTypeSeverityIndex(t *testing.T) {
	mock := &mockDynamo{}
	store, _ := NewDynamoStore(mock, testTables)

	typ := models.EmergencyTypeSecurityIncident
	sev := models.SeverityHigh
	if _, err := store.ListEmergencies(context.Background(), Filter{Type: &typ, Severity: &sev}); err != nil {
		t.Fatalf("ListEmergencies failed: %v", err)
	}
	if aws.ToString(mock.queryIn.IndexName) != TypeSeverityIndex {
		t.Errorf("expected %s, got %s", TypeSeverityIndex, aws.ToString(mock.queryIn.IndexName))
	}
	if mock.queryIn.ExpressionAttributeNames["#severity"] != "severity" {
		t.Errorf("severity key not bound: %v", mock.queryIn.ExpressionAttributeNames)
	}
}

func emergencyItems(t *testing.T, list ...models.Emergency) []map[string]types.AttributeValue {
	t.Helper()
	items := make([]map[string]types.AttributeValue, 0, len(list))
	for _, e := range list {
		item, err := attributevalue.MarshalMap(e)
		if err != nil {
			t.Fatalf("MarshalMap failed: %v", err)
		}
		items = append(items, item)
	}
	return items
}

func TestDynamoStore_ListEmergencies_SeverityOnly(t *testing.T) {
	now := time.Now().UTC()
	mock := &mockDynamo{scanOut: &dynamodb.ScanOutput{Items: emergencyItems(t,
		models.Emergency{ID: "low", Type: models.EmergencyTypeGeneral, Severity: models.SeverityLow, Status: models.StatusInitiated, Timestamp: now},
		models.Emergency{ID: "high", Type: models.EmergencyTypeGeneral, Severity: models.SeverityHigh, Status: models.StatusInitiated, Timestamp: now},
		models.Emergency{ID: "critical", Type: models.EmergencyTypeGeneral, Severity: models.SeverityCritical, Status: models.StatusInitiated, Timestamp: now},
	)}}
	store, _ := NewDynamoStore(mock, testTables)

	sev := models.SeverityHigh
	got, err := store.ListEmergencies(context.Background(), Filter{Severity: &sev})
	if err != nil {
		t.Fatalf("ListEmergencies failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "high" {
		t.Errorf("expected only the HIGH record, got %v", got)
	}
}

func TestDynamoStore_ListEmergencies_LimitAfterFilter(t *testing.T) {
	now := time.Now().UTC()
	var list []models.Emergency
	for i, sev := range []models.Severity{models.SeverityLow, models.SeverityLow, models.SeverityHigh, models.SeverityLow, models.SeverityHigh} {
		list = append(list, models.Emergency{
			ID:        string(rune('a' + i)),
			Type:      models.EmergencyTypeSecurityIncident,
			Severity:  sev,
			Status:    models.StatusAssessed,
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	mock := &mockDynamo{queryOut: &dynamodb.QueryOutput{Items: emergencyItems(t, list...)}}
	store, _ := NewDynamoStore(mock, testTables)

	status := models.StatusAssessed
	sev := models.SeverityHigh
	got, err := store.ListEmergencies(context.Background(), Filter{Status: &status, Severity: &sev, Limit: 2})
	if err != nil {
		t.Fatalf("ListEmergencies failed: %v", err)
	}
	if aws.ToString(mock.queryIn.IndexName) != StatusIndex {
		t.Errorf("expected %s, got %s", StatusIndex, aws.ToString(mock.queryIn.IndexName))
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "e" {
		t.Errorf("expected both HIGH records newest first, got %v", got)
	}
}

