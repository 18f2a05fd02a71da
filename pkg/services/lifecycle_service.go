package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/repositories"
)

// RecoveryClient is the archival-recovery collaborator. Implementations query
// external archives (web archives, institutional mirrors) for a vanished
// entity and return a best-effort hint, or nil when nothing was found.
type RecoveryClient interface {
	Lookup(ctx context.Context, entityID string) (*models.RecoveryHint, error)
}

// LifecycleService maintains per-entity lifecycle records in response to
// transitions and answers vanished-entity queries. Updates for one entity
// must not run concurrently; the monitor pass guarantees that by handling
// each entity on a single worker.
type LifecycleService interface {
	// RecordTransition applies one transition to an entity's lifecycle
	// record, creating the record on first observation.
	RecordTransition(ctx context.Context, entityID string, transition models.Transition, date time.Time) (*models.LifecycleRecord, error)

	// Get returns one entity's lifecycle record, or nil if never observed.
	Get(ctx context.Context, entityID string) (*models.LifecycleRecord, error)

	// ListVanished returns the currently vanished entities.
	ListVanished(ctx context.Context, limit int) ([]*models.LifecycleRecord, error)

	// EnrichVanished asks the archival-recovery collaborator for a hint on a
	// vanished entity and attaches it to the lifecycle record. Best effort:
	// a missing collaborator or an empty result is not an error.
	EnrichVanished(ctx context.Context, entityID string) error
}

type lifecycleService struct {
	lifecycleRepo repositories.LifecycleRepository
	recovery      RecoveryClient // may be nil
	logger        *zap.Logger
}

// NewLifecycleService creates a new LifecycleService. recovery may be nil
// when no archival collaborator is configured.
func NewLifecycleService(
	lifecycleRepo repositories.LifecycleRepository,
	recovery RecoveryClient,
	logger *zap.Logger,
) LifecycleService {
	return &lifecycleService{
		lifecycleRepo: lifecycleRepo,
		recovery:      recovery,
		logger:        logger,
	}
}

var _ LifecycleService = (*lifecycleService)(nil)

func (s *lifecycleService) RecordTransition(ctx context.Context, entityID string, transition models.Transition, date time.Time) (*models.LifecycleRecord, error) {
	date = models.Day(date)

	rec, err := s.lifecycleRepo.Get(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load lifecycle record: %w", err)
	}
	if rec == nil {
		rec = &models.LifecycleRecord{
			EntityID:  entityID,
			Status:    models.LifecycleActive,
			FirstSeen: date,
			LastSeen:  date,
		}
	}

	switch transition {
	case models.TransitionVanished:
		// Stale captures arriving out of order must not resurrect or re-kill
		// an entity seen more recently.
		if rec.Status == models.LifecycleActive && !date.Before(models.Day(rec.LastSeen)) {
			rec.Status = models.LifecycleVanished
			rec.DisappearedAt = &date
			rec.ChangeCount++
		}

	case models.TransitionNew, models.TransitionChanged, models.TransitionUnchanged:
		if rec.Status == models.LifecycleVanished {
			rec.Status = models.LifecycleActive
			rec.ReappearedAt = &date
			rec.ChangeCount++
		}
		if transition == models.TransitionChanged {
			rec.ChangeCount++
		}
		if date.After(models.Day(rec.LastSeen)) {
			rec.LastSeen = date
		}
		if date.Before(models.Day(rec.FirstSeen)) {
			rec.FirstSeen = date
		}
	}

	if err := s.lifecycleRepo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist lifecycle record: %w", err)
	}

	return rec, nil
}

func (s *lifecycleService) Get(ctx context.Context, entityID string) (*models.LifecycleRecord, error) {
	return s.lifecycleRepo.Get(ctx, entityID)
}

func (s *lifecycleService) ListVanished(ctx context.Context, limit int) ([]*models.LifecycleRecord, error) {
	return s.lifecycleRepo.ListVanished(ctx, limit)
}

func (s *lifecycleService) EnrichVanished(ctx context.Context, entityID string) error {
	if s.recovery == nil {
		return nil
	}

	hint, err := s.recovery.Lookup(ctx, entityID)
	if err != nil {
		// Archival lookups are best effort and must never fail a pass.
		s.logger.Warn("archival recovery lookup failed",
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil
	}
	if hint == nil {
		return nil
	}

	if err := s.lifecycleRepo.AttachRecoveryHint(ctx, entityID, hint); err != nil {
		return fmt.Errorf("attach recovery hint: %w", err)
	}

	s.logger.Info("attached recovery hint",
		zap.String("entity_id", entityID),
		zap.String("source", hint.Source),
		zap.Float64("confidence", hint.Confidence))
	return nil
}
