package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/comitanigiacomo/gameless-engine/internal/adapters/cache"
	"github.com/comitanigiacomo/gameless-engine/internal/adapters/repository"
	"github.com/comitanigiacomo/gameless-engine/internal/config"
	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
	"github.com/comitanigiacomo/gameless-engine/internal/core/services"
	"github.com/comitanigiacomo/gameless-engine/internal/core/workers"

	_ "time/tzdata"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Critical: %v", err)
	}
	cfg.ConfigureLogger()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("Critical: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateRepo, prefRepo, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Critical: Failed to open storage: %v", err)
	}
	defer closeStorage()

	svc := services.NewProgressService(stateRepo,
		services.WithPreferences(prefRepo),
		services.WithLocation(loc),
		services.WithMaxXP(cfg.MaxXP),
	)

	lastRank := ""
	unsubscribe := svc.Subscribe(func(s domain.UserState) {
		if s.Rank != lastRank {
			log.WithFields(log.Fields{"rank": s.Rank, "streak_days": s.StreakDays}).Info("Rank updated")
			lastRank = s.Rank
		}
	})
	defer unsubscribe()

	state, err := svc.CheckIn(ctx, svc.Now())
	if err != nil {
		log.WithError(err).Error("Initial check-in failed")
	} else {
		lastRank = state.Rank
		log.WithFields(log.Fields{
			"rank":           state.Rank,
			"streak_days":    state.StreakDays,
			"xp":             state.CurrentXP,
			"next_tier_in":   state.DaysUntilNextTier(),
			"storage_driver": cfg.StorageDriver,
		}).Info("Gameless engine ready")
	}

	worker := workers.NewCheckInWorker(svc, cfg.CheckInSchedule, loc)
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Critical: %v", err)
	}

	<-ctx.Done()

	log.Println("Stop signal received. Shutting down...")
	worker.Stop()
	log.Println("Gameless engine stopped.")
}

// openStorage builds the repositories for the configured driver. When Redis is
// configured it fronts the state store and holds the preference keys.
func openStorage(ctx context.Context, cfg *config.Config) (domain.UserStateRepository, domain.PreferenceRepository, func(), error) {
	var (
		stateRepo domain.UserStateRepository
		prefRepo  domain.PreferenceRepository
		db        *sqlx.DB
		rdb       *redis.Client
	)

	closeAll := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}

	switch cfg.StorageDriver {
	case repository.DriverMemory:
		log.Warn("Using in-memory storage: progress is lost on exit")
		stateRepo = repository.NewInMemoryStateRepository()
		prefRepo = repository.NewInMemoryPreferenceRepository()
	default:
		var err error
		log.Printf("Connecting to %s database...", cfg.StorageDriver)
		db, err = repository.OpenDB(cfg.StorageDriver, cfg.DSN())
		if err != nil {
			return nil, nil, nil, err
		}
		if err := repository.Migrate(ctx, db.DB, cfg.StorageDriver); err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		stateRepo = repository.NewSQLStateRepository(db)
		prefRepo = repository.NewSQLPreferenceRepository(db)
	}

	if cfg.RedisEnabled() {
		var err error
		rdb, err = cache.NewRedisClient(ctx, cache.Options{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, continuing without cache")
		} else {
			log.Println("Redis connected, state cache enabled.")
			stateRepo = repository.NewCachedStateRepository(stateRepo, rdb)
			prefRepo = repository.NewRedisPreferenceRepository(rdb)
		}
	}

	return stateRepo, prefRepo, closeAll, nil
}
