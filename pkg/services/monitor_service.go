package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/apperrors"
	"github.com/datawatch-io/datawatch-engine/pkg/events"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/repositories"
	"github.com/datawatch-io/datawatch-engine/pkg/retry"
	"github.com/datawatch-io/datawatch-engine/pkg/score"
	"github.com/datawatch-io/datawatch-engine/pkg/worker"
)

// runNamespace seeds deterministic run ids so a re-run of the same date pair
// resumes from its own checkpoints.
var runNamespace = uuid.MustParse("3f8e42a6-54d1-4be0-9dc5-7a2f9f1c6b11")

// PassReport summarizes one catalog transition pass.
type PassReport struct {
	RunID    uuid.UUID `json:"run_id"`
	FromDate time.Time `json:"from_date"`
	ToDate   time.Time `json:"to_date"`

	New       int `json:"new"`
	Vanished  int `json:"vanished"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`

	EventsWritten int `json:"events_written"`
	Resumed       int `json:"resumed"` // entities skipped via checkpoints

	// EntityErrors collects per-entity failures; the pass completes the
	// remaining entities regardless.
	EntityErrors map[string]string `json:"entity_errors,omitempty"`
}

// MonitorService runs the full pipeline for a date pair: transition
// detection, diffing, scoring, event extraction, lifecycle recording, and
// leaderboard updates. Passes are checkpointed per entity and resumable;
// cancellation is cooperative at entity boundaries.
type MonitorService interface {
	RunPass(ctx context.Context, fromDate, toDate time.Time, opts DetectOptions) (*PassReport, error)
}

type monitorService struct {
	transitions TransitionService
	lifecycle   LifecycleService
	leaderboard LeaderboardService
	extractor   *events.Extractor
	scorer      *score.Scorer

	eventRepo      repositories.EventRepository
	checkpointRepo repositories.CheckpointRepository

	pool        *worker.Pool
	retryConfig *retry.Config
	logger      *zap.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	transitions TransitionService,
	lifecycle LifecycleService,
	leaderboard LeaderboardService,
	extractor *events.Extractor,
	scorer *score.Scorer,
	eventRepo repositories.EventRepository,
	checkpointRepo repositories.CheckpointRepository,
	pool *worker.Pool,
	logger *zap.Logger,
) MonitorService {
	return &monitorService{
		transitions:    transitions,
		lifecycle:      lifecycle,
		leaderboard:    leaderboard,
		extractor:      extractor,
		scorer:         scorer,
		eventRepo:      eventRepo,
		checkpointRepo: checkpointRepo,
		pool:           pool,
		retryConfig:    retry.DefaultConfig(),
		logger:         logger,
	}
}

var _ MonitorService = (*monitorService)(nil)

func (s *monitorService) RunPass(ctx context.Context, fromDate, toDate time.Time, opts DetectOptions) (*PassReport, error) {
	fromDate = models.Day(fromDate)
	toDate = models.Day(toDate)

	runID := uuid.NewSHA1(runNamespace,
		[]byte(fromDate.Format("2006-01-02")+"/"+toDate.Format("2006-01-02")))

	report := &PassReport{
		RunID:        runID,
		FromDate:     fromDate,
		ToDate:       toDate,
		EntityErrors: make(map[string]string),
	}

	transitions, err := s.transitions.Detect(ctx, fromDate, toDate, opts)
	if err != nil && (errors.Is(err, apperrors.ErrMissingSnapshotSet) || len(transitions) == 0) {
		return nil, err
	}
	if err != nil {
		// Detection completed with per-entity failures; record them and
		// keep going with the entities that classified cleanly.
		s.logger.Warn("transition detection completed with entity failures", zap.Error(err))
	}

	processed, err := s.checkpointRepo.ListProcessed(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run checkpoints: %w", err)
	}

	var pending []models.EntityTransition
	for _, tr := range transitions {
		switch tr.Transition {
		case models.TransitionNew:
			report.New++
		case models.TransitionVanished:
			report.Vanished++
		case models.TransitionChanged:
			report.Changed++
		case models.TransitionUnchanged:
			report.Unchanged++
		}
		if processed[tr.EntityID] {
			report.Resumed++
			continue
		}
		pending = append(pending, tr)
	}

	s.logger.Info("starting catalog pass",
		zap.String("run_id", runID.String()),
		zap.String("from_date", fromDate.Format("2006-01-02")),
		zap.String("to_date", toDate.Format("2006-01-02")),
		zap.Int("transitions", len(transitions)),
		zap.Int("pending", len(pending)),
		zap.Int("resumed", report.Resumed),
	)

	var enrich sync.WaitGroup

	items := make([]worker.Item[int], 0, len(pending))
	for _, tr := range pending {
		tr := tr
		items = append(items, worker.Item[int]{
			ID: tr.EntityID,
			Execute: func(ctx context.Context) (int, error) {
				return s.processEntity(ctx, runID, toDate, tr, &enrich)
			},
		})
	}

	for _, res := range worker.Process(ctx, s.pool, items) {
		if res.Err != nil {
			report.EntityErrors[res.ID] = res.Err.Error()
			continue
		}
		report.EventsWritten += res.Result
	}

	// Recovery hints are advisory, but the lookups must finish before the
	// process exits or they are lost. Each one is bounded by its own timeout.
	enrich.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		// Interrupted; checkpoints stay so the next run resumes.
		return report, ctxErr
	}

	if len(report.EntityErrors) == 0 {
		if err := s.checkpointRepo.DeleteRun(ctx, runID); err != nil {
			s.logger.Warn("failed to clear run checkpoints", zap.Error(err))
		}
	}

	s.logger.Info("catalog pass complete",
		zap.String("run_id", runID.String()),
		zap.Int("new", report.New),
		zap.Int("vanished", report.Vanished),
		zap.Int("changed", report.Changed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("events_written", report.EventsWritten),
		zap.Int("entity_errors", len(report.EntityErrors)),
	)

	return report, nil
}

// processEntity handles one entity end to end: extraction, event upsert with
// retry, lifecycle recording, leaderboard update, and checkpoint. Returns the
// number of events written.
func (s *monitorService) processEntity(ctx context.Context, runID uuid.UUID, date time.Time, tr models.EntityTransition, enrich *sync.WaitGroup) (int, error) {
	evts := s.extractor.Extract(tr.EntityID, date, tr.Transition, tr.Diff)

	written := 0
	if len(evts) > 0 {
		err := retry.DoIfRetryable(ctx, s.retryConfig, func() error {
			n, err := s.eventRepo.UpsertBatch(ctx, evts)
			if err == nil {
				written = n
			}
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("write events: %w", err)
		}
	}

	if _, err := s.lifecycle.RecordTransition(ctx, tr.EntityID, tr.Transition, date); err != nil {
		return written, fmt.Errorf("record transition: %w", err)
	}

	if tr.Transition == models.TransitionChanged && tr.Diff != nil {
		sc := s.scorer.Score(tr.Diff)
		if err := s.leaderboard.RecordScore(ctx, tr.EntityID, sc.Volatility, date); err != nil {
			// Leaderboard is advisory; log and continue.
			s.logger.Warn("failed to record leaderboard score",
				zap.String("entity_id", tr.EntityID),
				zap.Error(err))
		}
	}

	if tr.Transition == models.TransitionVanished {
		// Archival enrichment never blocks the entity; RunPass drains the
		// group before returning.
		enrich.Add(1)
		go func(entityID string) {
			defer enrich.Done()
			enrichCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.lifecycle.EnrichVanished(enrichCtx, entityID); err != nil {
				s.logger.Warn("vanished enrichment failed",
					zap.String("entity_id", entityID),
					zap.Error(err))
			}
		}(tr.EntityID)
	}

	if err := s.checkpointRepo.MarkProcessed(ctx, runID, tr.EntityID); err != nil {
		return written, fmt.Errorf("mark checkpoint: %w", err)
	}

	return written, nil
}
