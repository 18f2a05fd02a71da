package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/apperrors"
	"github.com/datawatch-io/datawatch-engine/pkg/diff"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/repositories"
	"github.com/datawatch-io/datawatch-engine/pkg/worker"
)

// DetectOptions adjusts transition detection behavior.
type DetectOptions struct {
	// Baseline runs tolerate an empty entity set on either date and return
	// an empty result. Periodic runs fail with ErrMissingSnapshotSet instead,
	// since an empty set there almost always means a capture outage.
	Baseline bool
}

// TransitionService classifies every tracked entity between two capture dates
// as NEW, VANISHED, CHANGED, or UNCHANGED, attaching the diff for changed
// entities. It is read-only: no events or lifecycle records are written here.
type TransitionService interface {
	// Detect classifies all entities between fromDate and toDate. Both
	// entity-id sets are fully enumerated before any per-entity diffing
	// starts, so partial enumeration can never masquerade as NEW/VANISHED.
	Detect(ctx context.Context, fromDate, toDate time.Time, opts DetectOptions) ([]models.EntityTransition, error)
}

type transitionService struct {
	snapshotRepo repositories.SnapshotRepository
	engine       *diff.Engine
	pool         *worker.Pool
	logger       *zap.Logger
}

// NewTransitionService creates a new TransitionService.
func NewTransitionService(
	snapshotRepo repositories.SnapshotRepository,
	engine *diff.Engine,
	pool *worker.Pool,
	logger *zap.Logger,
) TransitionService {
	return &transitionService{
		snapshotRepo: snapshotRepo,
		engine:       engine,
		pool:         pool,
		logger:       logger,
	}
}

var _ TransitionService = (*transitionService)(nil)

func (s *transitionService) Detect(ctx context.Context, fromDate, toDate time.Time, opts DetectOptions) ([]models.EntityTransition, error) {
	fromDate = models.Day(fromDate)
	toDate = models.Day(toDate)

	fromIDs, err := s.snapshotRepo.ListEntityIDsByDate(ctx, fromDate)
	if err != nil {
		return nil, fmt.Errorf("enumerate entities at %s: %w", fromDate.Format("2006-01-02"), err)
	}
	toIDs, err := s.snapshotRepo.ListEntityIDsByDate(ctx, toDate)
	if err != nil {
		return nil, fmt.Errorf("enumerate entities at %s: %w", toDate.Format("2006-01-02"), err)
	}

	if len(fromIDs) == 0 || len(toIDs) == 0 {
		if opts.Baseline {
			return nil, nil
		}
		empty := fromDate
		if len(fromIDs) > 0 {
			empty = toDate
		}
		return nil, fmt.Errorf("%w: no snapshots recorded for %s",
			apperrors.ErrMissingSnapshotSet, empty.Format("2006-01-02"))
	}

	fromSet := make(map[string]bool, len(fromIDs))
	for _, id := range fromIDs {
		fromSet[id] = true
	}
	toSet := make(map[string]bool, len(toIDs))
	for _, id := range toIDs {
		toSet[id] = true
	}

	var result []models.EntityTransition
	var common []string

	for _, id := range toIDs {
		if !fromSet[id] {
			result = append(result, models.EntityTransition{EntityID: id, Transition: models.TransitionNew})
		} else {
			common = append(common, id)
		}
	}
	for _, id := range fromIDs {
		if !toSet[id] {
			result = append(result, models.EntityTransition{EntityID: id, Transition: models.TransitionVanished})
		}
	}

	s.logger.Info("entity sets enumerated",
		zap.String("from_date", fromDate.Format("2006-01-02")),
		zap.String("to_date", toDate.Format("2006-01-02")),
		zap.Int("from_count", len(fromIDs)),
		zap.Int("to_count", len(toIDs)),
		zap.Int("common", len(common)),
	)

	// Diffing is pure and independent per entity; fan out across the pool.
	items := make([]worker.Item[models.EntityTransition], 0, len(common))
	for _, id := range common {
		entityID := id
		items = append(items, worker.Item[models.EntityTransition]{
			ID: entityID,
			Execute: func(ctx context.Context) (models.EntityTransition, error) {
				return s.diffOne(ctx, entityID, fromDate, toDate)
			},
		})
	}

	var errs []error
	for _, res := range worker.Process(ctx, s.pool, items) {
		if res.Err != nil {
			s.logger.Warn("failed to diff entity",
				zap.String("entity_id", res.ID),
				zap.Error(res.Err))
			errs = append(errs, fmt.Errorf("entity %s: %w", res.ID, res.Err))
			continue
		}
		result = append(result, res.Result)
	}

	// Pool results arrive in completion order; callers expect determinism.
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

func (s *transitionService) diffOne(ctx context.Context, entityID string, fromDate, toDate time.Time) (models.EntityTransition, error) {
	from, err := s.snapshotRepo.GetByEntityAndDate(ctx, entityID, fromDate)
	if err != nil {
		return models.EntityTransition{}, err
	}
	to, err := s.snapshotRepo.GetByEntityAndDate(ctx, entityID, toDate)
	if err != nil {
		return models.EntityTransition{}, err
	}
	if from == nil || to == nil {
		// Listed during enumeration but gone on load; treat as incomplete
		// input rather than guessing a transition.
		return models.EntityTransition{}, apperrors.ErrIncompleteDiffInput
	}

	d := s.engine.Diff(from, to)
	if d.Empty() {
		return models.EntityTransition{EntityID: entityID, Transition: models.TransitionUnchanged}, nil
	}
	return models.EntityTransition{EntityID: entityID, Transition: models.TransitionChanged, Diff: d}, nil
}
