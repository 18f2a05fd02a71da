package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/database"
	"github.com/datawatch-io/datawatch-engine/pkg/diff"
	"github.com/datawatch-io/datawatch-engine/pkg/events"
	"github.com/datawatch-io/datawatch-engine/pkg/ingest"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/repositories"
	"github.com/datawatch-io/datawatch-engine/pkg/score"
	"github.com/datawatch-io/datawatch-engine/pkg/services"
	"github.com/datawatch-io/datawatch-engine/pkg/worker"
)

// Version is set at build time via ldflags
var Version = "dev"

// app bundles the wired engine for CLI commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db *database.DB

	snapshotRepo repositories.SnapshotRepository
	eventRepo    repositories.EventRepository

	monitor     services.MonitorService
	baselines   services.BaselineService
	lifecycle   services.LifecycleService
	leaderboard services.LeaderboardService
}

func newApp(ctx context.Context, profile string) (*app, func(), error) {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, nil, err
	}
	diffCfg, err := profiles.Resolve(profile, cfg.Diff)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, leaderboard degrades to Postgres queries", zap.Error(err))
	}

	snapshotRepo := repositories.NewSnapshotRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	lifecycleRepo := repositories.NewLifecycleRepository(db)
	baselineRepo := repositories.NewBaselineRepository(db)
	checkpointRepo := repositories.NewCheckpointRepository(db)

	engine := diff.NewEngine(diffCfg)
	scorer := score.NewScorer(diffCfg)
	extractor := events.NewExtractor(diffCfg)
	pool := worker.NewPool(cfg.Worker, logger)

	transitions := services.NewTransitionService(snapshotRepo, engine, pool, logger.Named("transitions"))
	lifecycle := services.NewLifecycleService(lifecycleRepo, nil, logger.Named("lifecycle"))
	leaderboard := services.NewLeaderboardService(redisClient, eventRepo, logger.Named("leaderboard"))
	monitor := services.NewMonitorService(
		transitions, lifecycle, leaderboard, extractor, scorer,
		eventRepo, checkpointRepo, pool, logger.Named("monitor"))
	baselines := services.NewBaselineService(baselineRepo, snapshotRepo, engine, logger.Named("baselines"))

	a := &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		snapshotRepo: snapshotRepo,
		eventRepo:    eventRepo,
		monitor:      monitor,
		baselines:    baselines,
		lifecycle:    lifecycle,
		leaderboard:  leaderboard,
	}
	cleanup := func() {
		db.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func parseDay(value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return models.Day(t), nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	var profile string

	root := &cobra.Command{
		Use:           "datawatch-engine",
		Short:         "Dataset catalog change monitoring engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&profile, "profile", "", "named diff profile to use")

	root.AddCommand(
		newMigrateCmd(),
		newIngestCmd(&profile),
		newDetectCmd(&profile),
		newBaselineCmd(&profile),
		newVanishedCmd(&profile),
		newLeaderboardCmd(&profile),
		newEventsCmd(&profile),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(Version)
			if err != nil {
				return err
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer sqlDB.Close()

			return database.RunMigrations(sqlDB, cfg.MigrationsPath, logger)
		},
	}
}

func newIngestCmd(profile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Normalize raw catalog payloads and store snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			adapter := ingest.NewAdapter()
			stored := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				payloads, err := splitPayloads(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for i, payload := range payloads {
					snap, err := adapter.Normalize(payload)
					if err != nil {
						return fmt.Errorf("%s[%d]: %w", path, i, err)
					}
					if err := a.snapshotRepo.Upsert(cmd.Context(), snap); err != nil {
						return err
					}
					stored++
				}
			}
			fmt.Printf("stored %d snapshots\n", stored)
			return nil
		},
	}
}

// splitPayloads accepts either a single JSON object or an array of objects.
func splitPayloads(data []byte) ([][]byte, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		out := make([][]byte, len(list))
		for i, raw := range list {
			out[i] = raw
		}
		return out, nil
	}
	return [][]byte{data}, nil
}

func newDetectCmd(profile *string) *cobra.Command {
	var fromStr, toStr string
	var baseline bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run a full catalog pass between two capture dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDay(fromStr)
			if err != nil {
				return err
			}
			to, err := parseDay(toStr)
			if err != nil {
				return err
			}

			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := a.monitor.RunPass(cmd.Context(), from, to, services.DetectOptions{Baseline: baseline})
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "earlier capture date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "later capture date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&baseline, "baseline", false, "tolerate an empty entity set on either date")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBaselineCmd(profile *string) *cobra.Command {
	baseline := &cobra.Command{
		Use:   "baseline",
		Short: "Manage frozen reference snapshot sets",
	}

	var freezeName, freezeDate string
	freeze := &cobra.Command{
		Use:   "freeze",
		Short: "Freeze the entity set of a capture date as a named baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDay(freezeDate)
			if err != nil {
				return err
			}
			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			b, err := a.baselines.Freeze(cmd.Context(), freezeName, date)
			if err != nil {
				return err
			}
			fmt.Printf("baseline %q frozen on %s with %d entities\n",
				b.Name, b.FrozenOn.Format("2006-01-02"), len(b.EntityIDs))
			return nil
		},
	}
	freeze.Flags().StringVar(&freezeName, "name", "", "baseline name")
	freeze.Flags().StringVar(&freezeDate, "date", "", "capture date to freeze (YYYY-MM-DD)")
	_ = freeze.MarkFlagRequired("name")
	_ = freeze.MarkFlagRequired("date")

	var compareName, asOfStr string
	compare := &cobra.Command{
		Use:   "compare",
		Short: "Compare the catalog as of a date against a baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := parseDay(asOfStr)
			if err != nil {
				return err
			}
			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			cmp, err := a.baselines.Compare(cmd.Context(), compareName, asOf)
			if err != nil {
				return err
			}
			return printJSON(cmp)
		},
	}
	compare.Flags().StringVar(&compareName, "name", "", "baseline name (default: most recent)")
	compare.Flags().StringVar(&asOfStr, "as-of", "", "catalog date to compare (YYYY-MM-DD)")
	_ = compare.MarkFlagRequired("as-of")

	baseline.AddCommand(freeze, compare)
	return baseline
}

func newVanishedCmd(profile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "vanished",
		Short: "List currently vanished entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := a.lifecycle.ListVanished(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to return")
	return cmd
}

func newLeaderboardCmd(profile *string) *cobra.Command {
	var windowDays, limit int
	var by string

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank entities by recent churn",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			window := time.Duration(windowDays) * 24 * time.Hour
			var entries []services.LeaderboardEntry
			switch by {
			case "volatility":
				entries, err = a.leaderboard.TopVolatile(cmd.Context(), window, limit)
			case "changes":
				entries, err = a.leaderboard.TopChanged(cmd.Context(), window, limit)
			default:
				return fmt.Errorf("unknown ranking %q (want volatility or changes)", by)
			}
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	cmd.Flags().IntVar(&windowDays, "window", 7, "trailing window in days")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to return")
	cmd.Flags().StringVar(&by, "by", "volatility", "ranking: volatility or changes")
	return cmd
}

func newEventsCmd(profile *string) *cobra.Command {
	var entityID, severity, sinceStr, untilStr string
	var types []string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query stored change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.EventFilter{
				EntityID: entityID,
				Severity: models.Severity(severity),
				Limit:    limit,
			}
			for _, t := range types {
				filter.Types = append(filter.Types, models.EventType(t))
			}
			if sinceStr != "" {
				since, err := parseDay(sinceStr)
				if err != nil {
					return err
				}
				filter.Since = since
			}
			if untilStr != "" {
				until, err := parseDay(untilStr)
				if err != nil {
					return err
				}
				filter.Until = until
			}

			a, cleanup, err := newApp(cmd.Context(), *profile)
			if err != nil {
				return err
			}
			defer cleanup()

			evts, err := a.eventRepo.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(evts)
		},
	}
	cmd.Flags().StringVar(&entityID, "entity", "", "filter by entity id")
	cmd.Flags().StringSliceVar(&types, "type", nil, "filter by event type (repeatable)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&sinceStr, "since", "", "earliest capture date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&untilStr, "until", "", "latest capture date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to return")
	return cmd
}
