package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mr1hm/go-disaster-response/internal/models"
)

const (
	StatusIndex       = "StatusIndex"
	TypeSeverityIndex = "TypeSeverityIndex"
	SourceRefIndex    = "SourceRefIndex"
	ResourceTypeIndex = "ResourceTypeIndex"
	AllocatedToIndex  = "AllocatedToIndex"
	SpecialtyIndex    = "SpecialtyIndex"
)

// DynamoAPI is the subset of the DynamoDB client the store calls.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type DynamoTables struct {
	Emergencies string
	Resources   string
	Teams       string
}

type DynamoStore struct {
	db     DynamoAPI
	tables DynamoTables
}

func NewDynamoStore(client DynamoAPI, tables DynamoTables) (*DynamoStore, error) {
	if tables.Emergencies == "" || tables.Resources == "" || tables.Teams == "" {
		return nil, fmt.Errorf("dynamodb table names are required")
	}
	return &DynamoStore{db: client, tables: tables}, nil
}

func (s *DynamoStore) Close() error {
	return nil
}

func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

func (s *DynamoStore) CreateEmergency(ctx context.Context, e *models.Emergency) error {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("error encoding emergency: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tables.Emergencies),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(emergency_id)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return fmt.Errorf("emergency %s: %w", e.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("error putting emergency: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetEmergency(ctx context.Context, id string) (*models.Emergency, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Emergencies),
		Key:            strKey("emergency_id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting emergency: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("emergency %s: %w", id, ErrNotFound)
	}

	var e models.Emergency
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("error decoding emergency: %w", err)
	}
	return &e, nil
}

func (s *DynamoStore) ExistsBySourceRef(ctx context.Context, ref string) (bool, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Emergencies),
		IndexName:              aws.String(SourceRefIndex),
		KeyConditionExpression: aws.String("source_ref = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: ref},
		},
		Select: types.SelectCount,
		Limit:  aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("error querying source ref: %w", err)
	}
	return out.Count > 0, nil
}

func (s *DynamoStore) ListEmergencies(ctx context.Context, opts Filter) ([]models.Emergency, error) {
	var items []map[string]types.AttributeValue
	var err error

	switch {
	case opts.Status != nil:
		items, err = s.query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.tables.Emergencies),
			IndexName:                aws.String(StatusIndex),
			KeyConditionExpression:   aws.String("#status = :status"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(*opts.Status)},
			},
		})
	case opts.Type != nil:
		in := &dynamodb.QueryInput{
			TableName:                aws.String(s.tables.Emergencies),
			IndexName:                aws.String(TypeSeverityIndex),
			KeyConditionExpression:   aws.String("#type = :type"),
			ExpressionAttributeNames: map[string]string{"#type": "emergency_type"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":type": &types.AttributeValueMemberS{Value: string(*opts.Type)},
			},
		}
		if opts.Severity != nil {
			in.KeyConditionExpression = aws.String("#type = :type AND #severity = :severity")
			in.ExpressionAttributeNames["#severity"] = "severity"
			in.ExpressionAttributeValues[":severity"] = &types.AttributeValueMemberS{Value: string(*opts.Severity)}
		}
		items, err = s.query(ctx, in)
	default:
		items, err = s.scan(ctx, s.tables.Emergencies)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing emergencies: %w", err)
	}

	var out []models.Emergency
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("error decoding emergencies: %w", err)
	}

	// Only one key can drive the read; the rest of the filter is applied
	// here, before the limit.
	filtered := out[:0]
	for _, e := range out {
		if opts.matches(&e) {
			filtered = append(filtered, e)
		}
	}
	out = filtered

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *DynamoStore) query(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewQueryPaginator(s.db, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *DynamoStore) scan(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(s.db, &dynamodb.ScanInput{TableName: aws.String(table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

type updateExpr struct {
	set    []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func (u *updateExpr) add(attr string, v any) error {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", attr, err)
	}
	name := "#" + attr
	u.names[name] = attr
	u.values[":"+attr] = av
	u.set = append(u.set, fmt.Sprintf("%s = :%s", name, attr))
	return nil
}

// buildEmergencyUpdate turns a patch into an update expression plus the
// condition that the item exists and, optionally, holds an expected status.
func buildEmergencyUpdate(patch models.EmergencyPatch, now time.Time, expect []models.Status) (*updateExpr, string, error) {
	u := &updateExpr{names: map[string]string{}, values: map[string]types.AttributeValue{}}

	fields := []struct {
		attr string
		set  bool
		val  func() any
	}{
		{"status", patch.Status != nil, func() any { return *patch.Status }},
		{"severity", patch.Severity != nil, func() any { return *patch.Severity }},
		{"assessment", patch.Assessment != nil, func() any { return *patch.Assessment }},
		{"recommended_resources", patch.RecommendedResources != nil, func() any { return patch.RecommendedResources }},
		{"allocated_resources", patch.AllocatedResources != nil, func() any { return patch.AllocatedResources }},
		{"situation_report", patch.SituationReport != nil, func() any { return *patch.SituationReport }},
		{"error_message", patch.ErrorMessage != nil, func() any { return *patch.ErrorMessage }},
		{"notifications_sent", patch.NotificationsSent != nil, func() any { return *patch.NotificationsSent }},
		{"teams_notified", patch.TeamsNotified != nil, func() any { return patch.TeamsNotified }},
		{"workflow_execution_arn", patch.WorkflowExecution != nil, func() any { return *patch.WorkflowExecution }},
		{"assessment_timestamp", patch.AssessedAt != nil, func() any { return *patch.AssessedAt }},
		{"allocation_timestamp", patch.AllocatedAt != nil, func() any { return *patch.AllocatedAt }},
		{"notification_timestamp", patch.NotifiedAt != nil, func() any { return *patch.NotifiedAt }},
		{"report_timestamp", patch.ReportedAt != nil, func() any { return *patch.ReportedAt }},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := u.add(f.attr, f.val()); err != nil {
			return nil, "", err
		}
	}
	if err := u.add("updated_at", now); err != nil {
		return nil, "", err
	}

	cond := "attribute_exists(emergency_id)"
	if len(expect) > 0 {
		u.names["#status"] = "status"
		keys := make([]string, len(expect))
		for i, st := range expect {
			key := fmt.Sprintf(":expect%d", i)
			keys[i] = key
			u.values[key] = &types.AttributeValueMemberS{Value: string(st)}
		}
		cond += " AND #status IN (" + strings.Join(keys, ", ") + ")"
	}
	return u, cond, nil
}

func (s *DynamoStore) UpdateEmergency(ctx context.Context, id string, patch models.EmergencyPatch, expect ...models.Status) error {
	u, cond, err := buildEmergencyUpdate(patch, time.Now().UTC(), expect)
	if err != nil {
		return err
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.tables.Emergencies),
		Key:                                 strKey("emergency_id", id),
		UpdateExpression:                    aws.String("SET " + strings.Join(u.set, ", ")),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            u.names,
		ExpressionAttributeValues:           u.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	return conditionalErr(err, "emergency", id)
}

// conditionalErr maps a failed condition to ErrNotFound when the item is
// missing and ErrConflict otherwise.
func conditionalErr(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		if len(cfe.Item) == 0 {
			return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return fmt.Errorf("%s %s: %w", kind, id, ErrConflict)
	}
	return fmt.Errorf("error updating %s: %w", kind, err)
}

func (s *DynamoStore) PutResource(ctx context.Context, r *models.Resource) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("error encoding resource: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Resources),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("error putting resource: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tables.Resources),
		Key:            strKey("resource_id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("error getting resource: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	var r models.Resource
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("error decoding resource: %w", err)
	}
	return &r, nil
}

func (s *DynamoStore) ListAvailableResources(ctx context.Context, resourceType string) ([]models.Resource, error) {
	items, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Resources),
		IndexName:              aws.String(ResourceTypeIndex),
		KeyConditionExpression: aws.String("resource_type = :type AND availability_status = :available"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":type":      &types.AttributeValueMemberS{Value: resourceType},
			":available": &types.AttributeValueMemberS{Value: string(models.AvailabilityAvailable)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error querying resources: %w", err)
	}
	return decodeResources(items)
}

func (s *DynamoStore) ListResourcesAllocatedTo(ctx context.Context, emergencyID string) ([]models.Resource, error) {
	items, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Resources),
		IndexName:              aws.String(AllocatedToIndex),
		KeyConditionExpression: aws.String("allocated_to = :eid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":eid": &types.AttributeValueMemberS{Value: emergencyID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error querying allocated resources: %w", err)
	}
	return decodeResources(items)
}

func decodeResources(items []map[string]types.AttributeValue) ([]models.Resource, error) {
	var out []models.Resource
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("error decoding resources: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DynamoStore) ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error) {
	ts, err := attributevalue.Marshal(at.UTC())
	if err != nil {
		return nil, fmt.Errorf("error encoding allocation time: %w", err)
	}

	out, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Resources),
		Key:       strKey("resource_id", resourceID),
		// Only claim while still AVAILABLE
		ConditionExpression: aws.String("availability_status = :available"),
		UpdateExpression:    aws.String("SET availability_status = :allocated, allocated_to = :eid, allocation_timestamp = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":available": &types.AttributeValueMemberS{Value: string(models.AvailabilityAvailable)},
			":allocated": &types.AttributeValueMemberS{Value: string(models.AvailabilityAllocated)},
			":eid":       &types.AttributeValueMemberS{Value: emergencyID},
			":at":        ts,
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return nil, conditionalErr(err, "resource", resourceID)
	}

	var r models.Resource
	if err := attributevalue.UnmarshalMap(out.Attributes, &r); err != nil {
		return nil, fmt.Errorf("error decoding resource: %w", err)
	}
	return &r, nil
}

func (s *DynamoStore) PutTeam(ctx context.Context, t *models.Team) error {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("error encoding team: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Teams),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("error putting team: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListAvailableTeams(ctx context.Context, specialty string) ([]models.Team, error) {
	items, err := s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Teams),
		IndexName:              aws.String(SpecialtyIndex),
		KeyConditionExpression: aws.String("specialty = :specialty"),
		FilterExpression:       aws.String("availability_status = :available"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":specialty": &types.AttributeValueMemberS{Value: specialty},
			":available": &types.AttributeValueMemberS{Value: string(models.AvailabilityAvailable)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error querying teams: %w", err)
	}

	var out []models.Team
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("error decoding teams: %w", err)
	}
	return out, nil
}
