package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/repositories"
)

const leaderboardTTL = 90 * 24 * time.Hour

// LeaderboardEntry is one ranked entity with its score.
type LeaderboardEntry struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// LeaderboardService ranks entities by recent churn. Scores live in Redis
// sorted sets keyed per capture day, so window queries union the daily keys.
// When Redis is not configured, rankings fall back to event counts from
// Postgres and RecordScore becomes a no-op.
type LeaderboardService interface {
	// RecordScore records an entity's volatility for a capture day. The daily
	// key keeps the highest score seen for the entity.
	RecordScore(ctx context.Context, entityID string, volatility float64, date time.Time) error

	// TopVolatile returns the entities with the highest peak volatility over
	// the trailing window.
	TopVolatile(ctx context.Context, window time.Duration, limit int) ([]LeaderboardEntry, error)

	// TopChanged returns the entities with the most change events over the
	// trailing window.
	TopChanged(ctx context.Context, window time.Duration, limit int) ([]LeaderboardEntry, error)
}

type leaderboardService struct {
	redis     *redis.Client // may be nil
	eventRepo repositories.EventRepository
	logger    *zap.Logger
}

// NewLeaderboardService creates a new LeaderboardService. redisClient may be
// nil when Redis is not configured.
func NewLeaderboardService(
	redisClient *redis.Client,
	eventRepo repositories.EventRepository,
	logger *zap.Logger,
) LeaderboardService {
	return &leaderboardService{
		redis:     redisClient,
		eventRepo: eventRepo,
		logger:    logger,
	}
}

var _ LeaderboardService = (*leaderboardService)(nil)

func volatilityKey(date time.Time) string {
	return "watch:volatility:" + models.Day(date).Format("2006-01-02")
}

func changeKey(date time.Time) string {
	return "watch:changes:" + models.Day(date).Format("2006-01-02")
}

func (s *leaderboardService) RecordScore(ctx context.Context, entityID string, volatility float64, date time.Time) error {
	if s.redis == nil {
		return nil
	}

	vKey := volatilityKey(date)
	cKey := changeKey(date)

	pipe := s.redis.Pipeline()
	pipe.ZAddGT(ctx, vKey, redis.Z{Score: volatility, Member: entityID})
	pipe.ZIncrBy(ctx, cKey, 1, entityID)
	pipe.Expire(ctx, vKey, leaderboardTTL)
	pipe.Expire(ctx, cKey, leaderboardTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record leaderboard score: %w", err)
	}
	return nil
}

func (s *leaderboardService) TopVolatile(ctx context.Context, window time.Duration, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.redis == nil {
		return s.fallbackTop(ctx, window, limit)
	}
	return s.unionTop(ctx, windowKeys(volatilityKey, window), "MAX", limit)
}

func (s *leaderboardService) TopChanged(ctx context.Context, window time.Duration, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.redis == nil {
		return s.fallbackTop(ctx, window, limit)
	}
	return s.unionTop(ctx, windowKeys(changeKey, window), "SUM", limit)
}

// windowKeys expands a trailing window into the per-day keys it covers,
// today included.
func windowKeys(keyFn func(time.Time) string, window time.Duration) []string {
	days := int(window.Hours() / 24)
	if days < 1 {
		days = 1
	}
	today := models.Day(time.Now().UTC())

	keys := make([]string, 0, days)
	for i := 0; i < days; i++ {
		keys = append(keys, keyFn(today.AddDate(0, 0, -i)))
	}
	return keys
}

func (s *leaderboardService) unionTop(ctx context.Context, keys []string, aggregate string, limit int) ([]LeaderboardEntry, error) {
	zs, err := s.redis.ZUnionWithScores(ctx, redis.ZStore{
		Keys:      keys,
		Aggregate: aggregate,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	sort.Slice(zs, func(i, j int) bool {
		if zs[i].Score != zs[j].Score {
			return zs[i].Score > zs[j].Score
		}
		return fmt.Sprint(zs[i].Member) < fmt.Sprint(zs[j].Member)
	})
	if len(zs) > limit {
		zs = zs[:limit]
	}

	entries := make([]LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		entries = append(entries, LeaderboardEntry{
			EntityID: fmt.Sprint(z.Member),
			Score:    z.Score,
		})
	}
	return entries, nil
}

// fallbackTop ranks by stored event counts when Redis is unavailable. It
// cannot distinguish peak volatility from raw churn, which is acceptable for
// a degraded mode.
func (s *leaderboardService) fallbackTop(ctx context.Context, window time.Duration, limit int) ([]LeaderboardEntry, error) {
	since := time.Now().UTC().Add(-window)
	counts, err := s.eventRepo.CountByEntitySince(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank by event counts: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(counts))
	for entityID, count := range counts {
		entries = append(entries, LeaderboardEntry{EntityID: entityID, Score: float64(count)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].EntityID < entries[j].EntityID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
