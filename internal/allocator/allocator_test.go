package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/stage"
)

func setupStore(t *testing.T) *repository.SQLiteDB {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *repository.SQLiteDB, typ string, n int, allocatedTo ...string) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := &models.Resource{ID: fmt.Sprintf("%s-%d", typ, i), Type: typ, Availability: models.AvailabilityAvailable}
		if i < len(allocatedTo) && allocatedTo[i] != "" {
			r.Availability = models.AvailabilityAllocated
			r.AllocatedTo = allocatedTo[i]
		}
		if err := db.PutResource(context.Background(), r); err != nil {
			t.Fatalf("PutResource failed: %v", err)
		}
	}
}

func createEmergency(t *testing.T, db *repository.SQLiteDB, id string, status models.Status, recommended []string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.CreateEmergency(context.Background(), &models.Emergency{
		ID:                   id,
		Type:                 models.EmergencyTypeNaturalDisaster,
		Severity:             models.SeverityCritical,
		Location:             "Ridgecrest",
		AffectedResources:    []string{},
		Status:               status,
		RecommendedResources: recommended,
		Timestamp:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		t.Fatalf("CreateEmergency failed: %v", err)
	}
}

func TestAllocate_PartialAllocation(t *testing.T) {
	db := setupStore(t)
	// 3 of 5 already taken by another emergency.
	seed(t, db, "medical-team", 5, "other", "other", "other")

	a := New(db)
	got, err := a.Allocate(context.Background(), "em-1", []string{"medical-team"})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(got))
	}
	for _, r := range got {
		if r.AllocatedTo != "em-1" || r.Availability != models.AvailabilityAllocated {
			t.Errorf("unexpected resource state: %+v", r)
		}
	}
}

func TestAllocate_NothingAvailable(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "shelter-team", 2, "x", "y")

	got, err := New(db).Allocate(context.Background(), "em-1", []string{"shelter-team", "unknown-type"})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected nothing, got %v", got)
	}
}

func TestAllocate_IdempotentPerType(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "medical-team", 1)
	a := New(db)
	ctx := context.Background()

	first, err := a.Allocate(ctx, "em-1", []string{"medical-team"})
	if err != nil || len(first) != 1 {
		t.Fatalf("first allocate: %v %v", first, err)
	}

	// New stock arrives; a re-drive must not grab it for a type already held.
	seed(t, db, "medical-team", 3)
	second, err := a.Allocate(ctx, "em-1", []string{"medical-team"})
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("expected the held resource only, got %v", second)
	}
}

type conflictStore struct {
	Store
	conflictOn map[string]bool
	failOn     string
}

func (c *conflictStore) ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error) {
	if c.conflictOn[resourceID] {
		return nil, repository.ErrConflict
	}
	if resourceID == c.failOn {
		return nil, errors.New("store unavailable")
	}
	return c.Store.ClaimResource(ctx, resourceID, emergencyID, at)
}

func TestAllocate_ContinuesPastConflict(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "evacuation-team", 3)

	store := &conflictStore{Store: db, conflictOn: map[string]bool{"evacuation-team-1": true}}
	got, err := New(store).Allocate(context.Background(), "em-1", []string{"evacuation-team"})
	if err != nil {
		t.Fatalf("conflict must not fail the batch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 claimed, got %d", len(got))
	}
}

func TestAllocate_ConcurrentNoDoubleAllocation(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "emergency-response-team", 10)
	a := New(db)

	const allocators = 8
	results := make([][]models.Resource, allocators)
	var wg sync.WaitGroup
	for i := 0; i < allocators; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := a.Allocate(context.Background(), fmt.Sprintf("em-%d", n), []string{"emergency-response-team"})
			if err != nil {
				t.Errorf("allocator %d: %v", n, err)
			}
			results[n] = got
		}(i)
	}
	wg.Wait()

	owner := map[string]string{}
	total := 0
	for n, got := range results {
		for _, r := range got {
			em := fmt.Sprintf("em-%d", n)
			if prev, ok := owner[r.ID]; ok {
				t.Errorf("resource %s allocated to both %s and %s", r.ID, prev, em)
			}
			owner[r.ID] = em
			total++
		}
	}
	if total != 10 {
		t.Errorf("expected all 10 resources claimed exactly once, got %d", total)
	}
}

func TestRun_UsesRecommendedResources(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "medical-team", 2)
	seed(t, db, "shelter-team", 1)
	createEmergency(t, db, "em-1", models.StatusAssessed, []string{"medical-team"})

	res, err := New(db).Run(context.Background(), "em-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != models.StatusResourcesAllocated || len(res.Resources) != 2 {
		t.Errorf("unexpected result: %+v", res)
	}

	stored, _ := db.GetEmergency(context.Background(), "em-1")
	if stored.Status != models.StatusResourcesAllocated || len(stored.AllocatedResources) != 2 || stored.AllocatedAt == nil {
		t.Errorf("record not updated: %+v", stored)
	}
}

type failingRecommender struct{}

func (failingRecommender) Recommend(ctx context.Context, e *models.Emergency) ([]string, error) {
	return nil, errors.New("function timed out")
}

func TestRun_RecommenderFailureFallsBackToDefaults(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "emergency-response-team", 1)
	seed(t, db, "medical-team", 1)
	createEmergency(t, db, "em-1", models.StatusAssessed, nil)

	res, err := New(db, WithRecommender(failingRecommender{})).Run(context.Background(), "em-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Resources) != 2 {
		t.Errorf("expected defaults to be claimed, got %v", res.Resources)
	}
}

func TestRun_AlreadyAllocatedReturnsStoredResult(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "medical-team", 1)
	createEmergency(t, db, "em-1", models.StatusAssessed, []string{"medical-team"})
	a := New(db)
	ctx := context.Background()

	if _, err := a.Run(ctx, "em-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	seed(t, db, "shelter-team", 1)

	res, err := a.Run(ctx, "em-1")
	if err != nil {
		t.Fatalf("re-run: %v", err)
	}
	if !res.AlreadyAllocated || len(res.Resources) != 1 {
		t.Errorf("expected stored allocation, got %+v", res)
	}
	available, _ := db.ListAvailableResources(ctx, "shelter-team")
	if len(available) != 1 {
		t.Error("re-run must not claim new resources")
	}
}

// interleavingStore holds every run at the availability lookup until all of
// them arrive, then slows claims so concurrent runs take turns.
type interleavingStore struct {
	Store
	mu      sync.Mutex
	waiting int
	runs    int
	release chan struct{}
}

func (s *interleavingStore) ListAvailableResources(ctx context.Context, resourceType string) ([]models.Resource, error) {
	s.mu.Lock()
	s.waiting++
	if s.waiting == s.runs {
		close(s.release)
	}
	s.mu.Unlock()

	select {
	case <-s.release:
	case <-time.After(2 * time.Second):
	}
	return s.Store.ListAvailableResources(ctx, resourceType)
}

func (s *interleavingStore) ClaimResource(ctx context.Context, resourceID, emergencyID string, at time.Time) (*models.Resource, error) {
	time.Sleep(2 * time.Millisecond)
	return s.Store.ClaimResource(ctx, resourceID, emergencyID, at)
}

func TestRun_DuplicateTriggersRecordEveryClaim(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "medical-team", 4)
	createEmergency(t, db, "em-1", models.StatusAssessed, []string{"medical-team"})

	const runs = 2
	a := New(&interleavingStore{Store: db, runs: runs, release: make(chan struct{})})
	ctx := context.Background()

	errs := make([]error, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = a.Run(ctx, "em-1")
		}(i)
	}
	wg.Wait()

	for n, err := range errs {
		if err != nil {
			t.Errorf("run %d: %v", n, err)
		}
	}

	held, err := db.ListResourcesAllocatedTo(ctx, "em-1")
	if err != nil {
		t.Fatalf("ListResourcesAllocatedTo failed: %v", err)
	}
	if len(held) != 4 {
		t.Fatalf("expected all 4 resources held by em-1, got %d", len(held))
	}

	stored, _ := db.GetEmergency(ctx, "em-1")
	if stored.Status != models.StatusResourcesAllocated || len(stored.AllocatedResources) != len(held) {
		t.Errorf("record lists %d of %d held resources (status %s)",
			len(stored.AllocatedResources), len(held), stored.Status)
	}

	res, err := New(db).Run(ctx, "em-1")
	if err != nil {
		t.Fatalf("re-drive: %v", err)
	}
	if !res.AlreadyAllocated || len(res.Resources) != len(held) {
		t.Errorf("re-drive returned %d resources, want %d", len(res.Resources), len(held))
	}
}

func TestRun_BlockedBeforeAssessment(t *testing.T) {
	db := setupStore(t)
	createEmergency(t, db, "em-1", models.StatusInitiated, nil)

	_, err := New(db).Run(context.Background(), "em-1")
	if !stage.IsKind(err, stage.KindInvalidState) {
		t.Errorf("expected INVALID_STATE, got %v", err)
	}
	stored, _ := db.GetEmergency(context.Background(), "em-1")
	if stored.Status != models.StatusInitiated {
		t.Errorf("blocked run must not write, status is %s", stored.Status)
	}
}

func TestRun_NotFound(t *testing.T) {
	_, err := New(setupStore(t)).Run(context.Background(), "ghost")
	if !stage.IsKind(err, stage.KindNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestRun_CollaboratorFailureRecordsError(t *testing.T) {
	db := setupStore(t)
	seed(t, db, "medical-team", 1)
	createEmergency(t, db, "em-1", models.StatusAssessed, []string{"medical-team"})

	store := &conflictStore{Store: db, failOn: "medical-team-0"}
	res, err := New(store).Run(context.Background(), "em-1")
	if !stage.IsKind(err, stage.KindCollaboratorFailure) {
		t.Fatalf("expected COLLABORATOR_FAILURE, got %v", err)
	}
	if res.Status != models.StatusResourceAllocationError || res.Error == "" {
		t.Errorf("unexpected result: %+v", res)
	}

	stored, _ := db.GetEmergency(context.Background(), "em-1")
	if stored.Status != models.StatusResourceAllocationError || stored.ErrorMessage == "" {
		t.Errorf("error not recorded: %s %q", stored.Status, stored.ErrorMessage)
	}

	// Re-drive from the error state succeeds once the store recovers.
	res, err = New(db).Run(context.Background(), "em-1")
	if err != nil || res.Status != models.StatusResourcesAllocated {
		t.Errorf("re-drive failed: %+v %v", res, err)
	}
}

func TestDefaultTypes(t *testing.T) {
	tests := map[models.EmergencyType][]string{
		models.EmergencyTypeNaturalDisaster:       {"emergency-response-team", "medical-team"},
		models.EmergencyTypeInfrastructureFailure: {"it-emergency-team", "network-team"},
		models.EmergencyTypeSecurityIncident:      {"security-team", "forensics-team"},
		models.EmergencyTypeGeneral:               {"emergency-response-team"},
	}
	for typ, want := range tests {
		got := DefaultTypes(typ)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("DefaultTypes(%s) = %v, want %v", typ, got, want)
		}
	}
}
