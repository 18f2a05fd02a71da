package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/diff"
	"github.com/datawatch-io/datawatch-engine/pkg/events"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/score"
	"github.com/datawatch-io/datawatch-engine/pkg/worker"
)

type monitorFixture struct {
	snapshotRepo   *fakeSnapshotRepo
	eventRepo      *fakeEventRepo
	lifecycleRepo  *fakeLifecycleRepo
	checkpointRepo *fakeCheckpointRepo
	recovery       *fakeRecoveryClient
	monitor        MonitorService
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()

	cfg := testDiffConfig()
	logger := zap.NewNop()
	pool := worker.NewPool(config.WorkerConfig{MaxConcurrent: 4}, logger)
	engine := diff.NewEngine(cfg)

	f := &monitorFixture{
		snapshotRepo:   newFakeSnapshotRepo(),
		eventRepo:      newFakeEventRepo(),
		lifecycleRepo:  newFakeLifecycleRepo(),
		checkpointRepo: newFakeCheckpointRepo(),
		recovery:       &fakeRecoveryClient{},
	}

	transitions := NewTransitionService(f.snapshotRepo, engine, pool, logger)
	lifecycle := NewLifecycleService(f.lifecycleRepo, f.recovery, logger)
	leaderboard := NewLeaderboardService(nil, f.eventRepo, logger)

	f.monitor = NewMonitorService(
		transitions, lifecycle, leaderboard,
		events.NewExtractor(cfg), score.NewScorer(cfg),
		f.eventRepo, f.checkpointRepo, pool, logger)

	return f
}

func (f *monitorFixture) seedCatalog(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("stays", day1)))
	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("stays", day2)))

	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("drifts", day1)))
	changed := storedSnapshot("drifts", day2)
	changed.Metadata.License = "cc0"
	require.NoError(t, f.snapshotRepo.Upsert(ctx, changed))

	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("gone", day1)))
	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("fresh", day2)))
}

func TestRunPassFullCatalog(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	report, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Vanished)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 1, report.Unchanged)
	assert.Empty(t, report.EntityErrors)

	// NEW, VANISHED, and LICENSE_CHANGED records.
	assert.Equal(t, 3, report.EventsWritten)
	assert.Equal(t, 3, f.eventRepo.count())

	// Lifecycle records exist for every entity and the vanished one flipped.
	gone, err := f.lifecycleRepo.Get(ctx, "gone")
	require.NoError(t, err)
	require.NotNil(t, gone)
	assert.Equal(t, models.LifecycleVanished, gone.Status)

	fresh, err := f.lifecycleRepo.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, models.LifecycleActive, fresh.Status)

	// Checkpoints cleared after a clean pass.
	processed, err := f.checkpointRepo.ListProcessed(ctx, report.RunID)
	require.NoError(t, err)
	assert.Empty(t, processed)
}

func TestRunPassIdempotent(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	first, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, first.EventsWritten)

	// Re-running the same pass derives the same events; the upsert keys make
	// every write a no-op.
	second, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.EventsWritten)
	assert.Equal(t, 3, f.eventRepo.count())
	assert.Equal(t, first.RunID, second.RunID, "same date pair must map to the same run")
}

func TestRunPassResumesFromCheckpoints(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	// Simulate a prior interrupted run that already handled "fresh".
	prior, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)
	f.eventRepo.events = map[string]models.Event{}
	require.NoError(t, f.checkpointRepo.MarkProcessed(ctx, prior.RunID, "fresh"))

	report, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resumed)

	// "fresh" was skipped, so its NEW event was not re-derived.
	evts, err := f.eventRepo.Query(ctx, models.EventFilter{EntityID: "fresh"})
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestRunPassRetriesTransientEventWrites(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	// First few writes fail with a transient network error; retry absorbs it.
	f.eventRepo.failUpserts = 2

	report, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.EntityErrors)
	assert.Equal(t, 3, f.eventRepo.count())
}

func TestRunPassContinuesPastDetectionFailures(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	f.snapshotRepo.failGet["drifts"] = true

	report, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)

	// The broken entity is reported; the rest of the batch completed.
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Vanished)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Changed)

	// Checkpoints survive so a later run can pick up where this one stopped.
	processed, err := f.checkpointRepo.ListProcessed(ctx, report.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, processed)
}

func TestRunPassDrainsVanishedEnrichment(t *testing.T) {
	f := newMonitorFixture(t)
	f.seedCatalog(t)
	ctx := context.Background()

	// A slow archive lookup must still complete before RunPass returns;
	// the hint would otherwise be lost when the process exits.
	f.recovery.delay = 50 * time.Millisecond
	f.recovery.hint = &models.RecoveryHint{
		Source:      "web-archive",
		ArchivedURL: "https://archive.example.org/gone",
		Confidence:  0.8,
	}

	_, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"gone"}, f.recovery.lookups)

	rec, err := f.lifecycleRepo.Get(ctx, "gone")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Recovery)
	assert.Equal(t, "web-archive", rec.Recovery.Source)
}

func TestRunPassEmptyCatalogFails(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.snapshotRepo.Upsert(ctx, storedSnapshot("only", day1)))

	_, err := f.monitor.RunPass(ctx, day1, day2, DetectOptions{})
	require.Error(t, err)
}
