package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/pubsub"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

type mockStarter struct {
	calls      int
	workflowID string
	name       string
	input      []byte
	err        error
}

func (m *mockStarter) StartExecution(ctx context.Context, workflowID, name string, input []byte) (string, error) {
	m.calls++
	m.workflowID, m.name, m.input = workflowID, name, input
	if m.err != nil {
		return "", m.err
	}
	return "exec:" + name, nil
}

type mockEvents struct {
	events []models.LifecycleEvent
	err    error
}

func (m *mockEvents) PublishLifecycle(ctx context.Context, e models.LifecycleEvent) error {
	m.events = append(m.events, e)
	return m.err
}

var testMapping = map[models.EmergencyType]string{
	models.EmergencyTypeNaturalDisaster:       "wf-natural",
	models.EmergencyTypeInfrastructureFailure: "wf-infra",
	models.EmergencyTypeSecurityIncident:      "wf-security",
}

func testEmergency(typ models.EmergencyType) *models.Emergency {
	return &models.Emergency{
		ID:        "abc",
		Type:      typ,
		Severity:  models.SeverityHigh,
		Location:  "Pasadena",
		Status:    models.StatusInitiated,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestDispatch(t *testing.T) {
	starter := &mockStarter{}
	events := &mockEvents{}
	d := NewDispatcher(testMapping, starter, events)

	exec, err := d.Dispatch(context.Background(), testEmergency(models.EmergencyTypeNaturalDisaster))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if starter.workflowID != "wf-natural" || starter.name != "emergency-abc" {
		t.Errorf("unexpected start: %s %s", starter.workflowID, starter.name)
	}
	if exec.Handle != "exec:emergency-abc" || !exec.EventPublished {
		t.Errorf("unexpected execution: %+v", exec)
	}

	var in map[string]any
	if err := json.Unmarshal(starter.input, &in); err != nil {
		t.Fatalf("input not JSON: %v", err)
	}
	for _, key := range []string{"emergency_id", "emergency_type", "severity", "location", "timestamp", "affected_resources"} {
		if _, ok := in[key]; !ok {
			t.Errorf("input missing %s", key)
		}
	}
	if len(in) != 6 {
		t.Errorf("input should have exactly 6 fields, got %v", in)
	}

	if len(events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.events))
	}
	ev := events.events[0]
	if ev.Status != models.StatusInitiated || ev.WorkflowExecution != exec.Handle {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDispatch_UnmappedTypeStartsNothing(t *testing.T) {
	starter := &mockStarter{}
	events := &mockEvents{}
	d := NewDispatcher(testMapping, starter, events)

	_, err := d.Dispatch(context.Background(), testEmergency(models.EmergencyTypeGeneral))
	if !stage.IsKind(err, stage.KindUnsupportedType) {
		t.Fatalf("expected UNSUPPORTED_TYPE, got %v", err)
	}
	if starter.calls != 0 || len(events.events) != 0 {
		t.Errorf("nothing should be started or published: %d %d", starter.calls, len(events.events))
	}
}

func TestDispatch_EmptyMappingEntryIsUnmapped(t *testing.T) {
	d := NewDispatcher(map[models.EmergencyType]string{models.EmergencyTypeGeneral: ""}, &mockStarter{}, nil)
	if _, ok := d.WorkflowFor(models.EmergencyTypeGeneral); ok {
		t.Error("empty workflow id should not count as mapped")
	}
}

func TestDispatch_StartFailure(t *testing.T) {
	events := &mockEvents{}
	d := NewDispatcher(testMapping, &mockStarter{err: errors.New("throttled")}, events)

	_, err := d.Dispatch(context.Background(), testEmergency(models.EmergencyTypeSecurityIncident))
	if !stage.IsKind(err, stage.KindCollaboratorFailure) {
		t.Errorf("expected COLLABORATOR_FAILURE, got %v", err)
	}
	if len(events.events) != 0 {
		t.Error("no event should be published when the start fails")
	}
}

func TestDispatch_EventFailureDoesNotFailDispatch(t *testing.T) {
	d := NewDispatcher(testMapping, &mockStarter{}, &mockEvents{err: errors.New("bus down")})

	exec, err := d.Dispatch(context.Background(), testEmergency(models.EmergencyTypeInfrastructureFailure))
	if err != nil {
		t.Fatalf("Dispatch should succeed, got %v", err)
	}
	if exec.EventPublished || exec.EventError == nil {
		t.Errorf("event failure should be reported on the execution: %+v", exec)
	}
}

type mockSFN struct {
	in  *sfn.StartExecutionInput
	err error
}

func (m *mockSFN) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	m.in = in
	if m.err != nil {
		return nil, m.err
	}
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:aws:states:us-east-1:1:execution:sm:" + aws.ToString(in.Name))}, nil
}

func TestStepFunctions_Start(t *testing.T) {
	client := &mockSFN{}
	s := NewStepFunctions(client)

	handle, err := s.StartExecution(context.Background(), "arn:aws:states:us-east-1:1:stateMachine:sm", "emergency-1", []byte(`{}`))
	if err != nil {
		t.Fatalf("StartExecution failed: %v", err)
	}
	if handle != "arn:aws:states:us-east-1:1:execution:sm:emergency-1" {
		t.Errorf("unexpected handle: %s", handle)
	}
}

func TestStepFunctions_AlreadyExists(t *testing.T) {
	s := NewStepFunctions(&mockSFN{err: &types.ExecutionAlreadyExists{Message: aws.String("exists")}})

	handle, err := s.StartExecution(context.Background(), "arn:aws:states:us-east-1:1:stateMachine:sm", "emergency-1", nil)
	if err != nil {
		t.Fatalf("expected duplicate start to resolve, got %v", err)
	}
	if handle != "arn:aws:states:us-east-1:1:execution:sm:emergency-1" {
		t.Errorf("unexpected derived handle: %s", handle)
	}
}

type mockEventBridge struct {
	in  *eventbridge.PutEventsInput
	out *eventbridge.PutEventsOutput
}

func (m *mockEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.in = in
	if m.out == nil {
		return &eventbridge.PutEventsOutput{}, nil
	}
	return m.out, nil
}

func TestEventBridge_PublishLifecycle(t *testing.T) {
	client := &mockEventBridge{}
	eb := NewEventBridge(client, "emergencies")

	err := eb.PublishLifecycle(context.Background(), models.LifecycleEvent{EmergencyID: "e1", Status: models.StatusInitiated})
	if err != nil {
		t.Fatalf("PublishLifecycle failed: %v", err)
	}
	entry := client.in.Entries[0]
	if aws.ToString(entry.DetailType) != EventDetailType || aws.ToString(entry.Source) != EventSource {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if aws.ToString(entry.EventBusName) != "emergencies" {
		t.Errorf("unexpected bus: %s", aws.ToString(entry.EventBusName))
	}
}

func TestEventBridge_FailedEntry(t *testing.T) {
	client := &mockEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []ebtypes.PutEventsResultEntry{{ErrorCode: aws.String("Throttled")}},
	}}
	if err := NewEventBridge(client, "").PublishLifecycle(context.Background(), models.LifecycleEvent{}); err == nil {
		t.Error("expected error for failed entry")
	}
}

func TestTopicEvents(t *testing.T) {
	b := pubsub.NewBroadcaster()
	defer b.Close()
	id, ch := b.Subscribe("emergency.lifecycle")
	defer b.Unsubscribe(id)

	te := NewTopicEvents(b, "emergency.lifecycle")
	te.PublishLifecycle(context.Background(), models.LifecycleEvent{EmergencyID: "e9", Severity: models.SeverityCritical})

	select {
	case d := <-ch:
		var ev models.LifecycleEvent
		if err := json.Unmarshal([]byte(d.Message.Body), &ev); err != nil || ev.EmergencyID != "e9" {
			t.Errorf("unexpected event body: %s (%v)", d.Message.Body, err)
		}
		if d.Message.Attributes["severity"] != "CRITICAL" {
			t.Errorf("unexpected attributes: %v", d.Message.Attributes)
		}
	default:
		t.Error("expected a lifecycle message")
	}
}

func TestMultiEvents_ReturnsFirstError(t *testing.T) {
	ok := &mockEvents{}
	bad := &mockEvents{err: errors.New("nope")}
	m := MultiEvents{bad, ok}

	if err := m.PublishLifecycle(context.Background(), models.LifecycleEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(ok.events) != 1 {
		t.Error("later publishers should still receive the event")
	}
}
