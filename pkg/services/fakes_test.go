package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

func testDiffConfig() config.DiffConfig {
	return config.DiffConfig{
		RenameSimilarityThreshold: 0.70,
		ContentDriftThreshold:     0.85,
		QuantileShiftThreshold:    0.15,
		TrackedQuantile:           "p50",
		RowCountSpikeFraction:     0.50,
		MetadataWeight:            0.3,
		SchemaWeight:              0.5,
		ContentWeight:             0.2,
		HighSeverityPoints:        5,
		MediumSeverityPoints:      3,
	}
}

func dayKey(t time.Time) string {
	return models.Day(t).Format("2006-01-02")
}

// fakeSnapshotRepo is an in-memory SnapshotRepository keyed by entity and day.
type fakeSnapshotRepo struct {
	mu    sync.Mutex
	snaps map[string]map[string]*models.Snapshot // entity -> day -> snapshot

	failGet map[string]bool // entity ids whose loads fail
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{
		snaps:   make(map[string]map[string]*models.Snapshot),
		failGet: make(map[string]bool),
	}
}

func (r *fakeSnapshotRepo) Upsert(ctx context.Context, snap *models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byDay, ok := r.snaps[snap.EntityID]
	if !ok {
		byDay = make(map[string]*models.Snapshot)
		r.snaps[snap.EntityID] = byDay
	}
	byDay[dayKey(snap.CapturedOn)] = snap
	return nil
}

func (r *fakeSnapshotRepo) GetByEntityAndDate(ctx context.Context, entityID string, date time.Time) (*models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet[entityID] {
		return nil, fmt.Errorf("boom loading %s", entityID)
	}
	byDay, ok := r.snaps[entityID]
	if !ok {
		return nil, nil
	}
	return byDay[dayKey(date)], nil
}

func (r *fakeSnapshotRepo) ListEntityIDsByDate(ctx context.Context, date time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for entityID, byDay := range r.snaps {
		if _, ok := byDay[dayKey(date)]; ok {
			ids = append(ids, entityID)
		}
	}
	return ids, nil
}

func (r *fakeSnapshotRepo) ListByEntity(ctx context.Context, entityID string, limit int) ([]*models.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Snapshot
	for _, snap := range r.snaps[entityID] {
		out = append(out, snap)
	}
	return out, nil
}

func (r *fakeSnapshotRepo) CountByDate(ctx context.Context, date time.Time) (int, error) {
	ids, _ := r.ListEntityIDsByDate(ctx, date)
	return len(ids), nil
}

// fakeEventRepo is an in-memory EventRepository with upsert-key semantics.
type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]models.Event // keyed by Event.Key()

	failUpserts int // fail this many UpsertBatch calls before succeeding
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]models.Event)}
}

func (r *fakeEventRepo) UpsertBatch(ctx context.Context, events []models.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts > 0 {
		r.failUpserts--
		return 0, fmt.Errorf("connection reset by peer")
	}
	inserted := 0
	for _, e := range events {
		key := e.Key()
		if _, ok := r.events[key]; ok {
			continue
		}
		r.events[key] = e
		inserted++
	}
	return inserted, nil
}

func (r *fakeEventRepo) Query(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, e := range r.events {
		e := e
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (r *fakeEventRepo) CountByEntitySince(ctx context.Context, since time.Time, limit int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range r.events {
		if e.CapturedOn.Before(models.Day(since)) {
			continue
		}
		counts[e.EntityID]++
	}
	return counts, nil
}

func (r *fakeEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeLifecycleRepo is an in-memory LifecycleRepository.
type fakeLifecycleRepo struct {
	mu      sync.Mutex
	records map[string]*models.LifecycleRecord
}

func newFakeLifecycleRepo() *fakeLifecycleRepo {
	return &fakeLifecycleRepo{records: make(map[string]*models.LifecycleRecord)}
}

func (r *fakeLifecycleRepo) Get(ctx context.Context, entityID string) (*models.LifecycleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[entityID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (r *fakeLifecycleRepo) Upsert(ctx context.Context, rec *models.LifecycleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.records[rec.EntityID] = &clone
	return nil
}

func (r *fakeLifecycleRepo) ListVanished(ctx context.Context, limit int) ([]*models.LifecycleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LifecycleRecord
	for _, rec := range r.records {
		if rec.Status == models.LifecycleVanished {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeLifecycleRepo) AttachRecoveryHint(ctx context.Context, entityID string, hint *models.RecoveryHint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[entityID]
	if !ok {
		return fmt.Errorf("no lifecycle record for %s", entityID)
	}
	rec.Recovery = hint
	return nil
}

// fakeCheckpointRepo is an in-memory CheckpointRepository.
type fakeCheckpointRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]map[string]bool
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{runs: make(map[uuid.UUID]map[string]bool)}
}

func (r *fakeCheckpointRepo) MarkProcessed(ctx context.Context, runID uuid.UUID, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		run = make(map[string]bool)
		r.runs[runID] = run
	}
	run[entityID] = true
	return nil
}

func (r *fakeCheckpointRepo) ListProcessed(ctx context.Context, runID uuid.UUID) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool)
	for id := range r.runs[runID] {
		out[id] = true
	}
	return out, nil
}

func (r *fakeCheckpointRepo) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	return nil
}

// fakeBaselineRepo is an in-memory BaselineRepository.
type fakeBaselineRepo struct {
	mu        sync.Mutex
	baselines []*models.Baseline
}

func newFakeBaselineRepo() *fakeBaselineRepo {
	return &fakeBaselineRepo{}
}

func (r *fakeBaselineRepo) Create(ctx context.Context, baseline *models.Baseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if baseline.ID == uuid.Nil {
		baseline.ID = uuid.New()
	}
	baseline.CreatedAt = time.Now()
	clone := *baseline
	r.baselines = append(r.baselines, &clone)
	return nil
}

func (r *fakeBaselineRepo) GetByName(ctx context.Context, name string) (*models.Baseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.baselines {
		if b.Name == name {
			clone := *b
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *fakeBaselineRepo) GetLatest(ctx context.Context) (*models.Baseline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.baselines) == 0 {
		return nil, nil
	}
	clone := *r.baselines[len(r.baselines)-1]
	return &clone, nil
}

// fakeRecoveryClient returns a canned hint, or an error when told to fail.
// delay simulates a slow archive lookup.
type fakeRecoveryClient struct {
	hint  *models.RecoveryHint
	err   error
	delay time.Duration

	mu      sync.Mutex
	lookups []string
}

func (c *fakeRecoveryClient) Lookup(ctx context.Context, entityID string) (*models.RecoveryHint, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.lookups = append(c.lookups, entityID)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.hint, nil
}
