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
)

// BaselineService freezes named reference sets of the catalog and answers
// drift questions against them. Comparisons are read-only: no events or
// lifecycle records are written here, so a baseline check never pollutes the
// periodic change feed.
type BaselineService interface {
	// Freeze captures the entity set observed on the given date as a named
	// baseline. Fails with ErrConflict if the name is taken and with
	// ErrMissingSnapshotSet if no snapshots exist for the date.
	Freeze(ctx context.Context, name string, date time.Time) (*models.Baseline, error)

	// Get returns the named baseline, or the most recent one when name is
	// empty. Fails with ErrNotFound when no baseline matches.
	Get(ctx context.Context, name string) (*models.Baseline, error)

	// Compare diffs the catalog as of the given date against a baseline,
	// resolved as in Get. When no baseline exists yet the catalog as of the
	// date is frozen as the reference set and the comparison is empty.
	Compare(ctx context.Context, name string, asOf time.Time) (*models.BaselineComparison, error)
}

type baselineService struct {
	baselineRepo repositories.BaselineRepository
	snapshotRepo repositories.SnapshotRepository
	engine       *diff.Engine
	logger       *zap.Logger
}

// NewBaselineService creates a new BaselineService.
func NewBaselineService(
	baselineRepo repositories.BaselineRepository,
	snapshotRepo repositories.SnapshotRepository,
	engine *diff.Engine,
	logger *zap.Logger,
) BaselineService {
	return &baselineService{
		baselineRepo: baselineRepo,
		snapshotRepo: snapshotRepo,
		engine:       engine,
		logger:       logger,
	}
}

var _ BaselineService = (*baselineService)(nil)

func (s *baselineService) Freeze(ctx context.Context, name string, date time.Time) (*models.Baseline, error) {
	date = models.Day(date)

	existing, err := s.baselineRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check baseline name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: baseline %q already exists", apperrors.ErrConflict, name)
	}

	entityIDs, err := s.snapshotRepo.ListEntityIDsByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("enumerate entities: %w", err)
	}
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("%w: no snapshots recorded for %s",
			apperrors.ErrMissingSnapshotSet, date.Format("2006-01-02"))
	}
	sort.Strings(entityIDs)

	baseline := &models.Baseline{
		Name:      name,
		FrozenOn:  date,
		EntityIDs: entityIDs,
	}
	if err := s.baselineRepo.Create(ctx, baseline); err != nil {
		return nil, err
	}

	s.logger.Info("baseline frozen",
		zap.String("name", name),
		zap.String("frozen_on", date.Format("2006-01-02")),
		zap.Int("entities", len(entityIDs)),
	)
	return baseline, nil
}

func (s *baselineService) Get(ctx context.Context, name string) (*models.Baseline, error) {
	var baseline *models.Baseline
	var err error
	if name == "" {
		baseline, err = s.baselineRepo.GetLatest(ctx)
	} else {
		baseline, err = s.baselineRepo.GetByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		if name == "" {
			return nil, fmt.Errorf("%w: no baseline has been frozen", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: baseline %q", apperrors.ErrNotFound, name)
	}
	return baseline, nil
}

func (s *baselineService) Compare(ctx context.Context, name string, asOf time.Time) (*models.BaselineComparison, error) {
	asOf = models.Day(asOf)

	baseline, err := s.Get(ctx, name)
	if errors.Is(err, apperrors.ErrNotFound) {
		return s.freezeForCompare(ctx, name, asOf)
	}
	if err != nil {
		return nil, err
	}

	currentIDs, err := s.snapshotRepo.ListEntityIDsByDate(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("enumerate entities: %w", err)
	}

	memberSet := make(map[string]bool, len(baseline.EntityIDs))
	for _, id := range baseline.EntityIDs {
		memberSet[id] = true
	}
	currentSet := make(map[string]bool, len(currentIDs))
	for _, id := range currentIDs {
		currentSet[id] = true
	}

	cmp := &models.BaselineComparison{BaselineID: baseline.ID}

	for _, id := range baseline.EntityIDs {
		if !currentSet[id] {
			cmp.Vanished = append(cmp.Vanished, id)
		}
	}
	for _, id := range currentIDs {
		if !memberSet[id] {
			cmp.New = append(cmp.New, id)
		}
	}
	sort.Strings(cmp.New)

	for _, id := range baseline.EntityIDs {
		if !currentSet[id] {
			continue
		}
		from, err := s.snapshotRepo.GetByEntityAndDate(ctx, id, baseline.FrozenOn)
		if err != nil {
			return nil, fmt.Errorf("load baseline snapshot for %s: %w", id, err)
		}
		to, err := s.snapshotRepo.GetByEntityAndDate(ctx, id, asOf)
		if err != nil {
			return nil, fmt.Errorf("load current snapshot for %s: %w", id, err)
		}
		if from == nil || to == nil {
			return nil, fmt.Errorf("%w: entity %s", apperrors.ErrIncompleteDiffInput, id)
		}
		if !s.engine.Diff(from, to).Empty() {
			cmp.Changed = append(cmp.Changed, id)
		}
	}

	return cmp, nil
}

// freezeForCompare handles the first-ever comparison: there is nothing to
// compare against, so the catalog as of the date becomes the reference set
// and the result reports no drift.
func (s *baselineService) freezeForCompare(ctx context.Context, name string, asOf time.Time) (*models.BaselineComparison, error) {
	if name == "" {
		name = "auto-" + asOf.Format("2006-01-02")
	}

	baseline, err := s.Freeze(ctx, name, asOf)
	if err != nil {
		return nil, err
	}

	s.logger.Info("no baseline existed, froze one from the comparison date",
		zap.String("name", name),
		zap.String("frozen_on", asOf.Format("2006-01-02")),
	)
	return &models.BaselineComparison{BaselineID: baseline.ID}, nil
}
