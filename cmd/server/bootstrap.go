package main

import (
	"context"
	"time"

	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/docstore"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/internal/rules"
	"github.com/tradeya/backend/internal/services"
	"github.com/tradeya/backend/internal/utils"
	"github.com/tradeya/backend/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds everything the routes and shutdown need.
type appServices struct {
	cfg *config.Config
	db  *gorm.DB

	rawStore docstore.Store
	store    *rules.Guard

	taskQueue services.TaskQueue
	worker    *services.Worker
	broker    services.Broker
	hub       *services.SSEHub
	scheduler *services.Scheduler
	locker    *services.RedisLocker

	outbox        *services.OutboxService
	relationships *services.RelationshipService
	trades        *services.TradeService
	challenges    *services.ChallengeService
	gamification  *services.GamificationService
	portfolio     *services.PortfolioService
	notifications *services.NotificationService
	reconcile     *services.ReconcileService
	auth          *services.AuthService
	systemConfig  *services.SystemConfigService
	systemLogs    *services.SystemLogService

	cancel context.CancelFunc
}

// bootstrap initializes all application dependencies: database, document
// store, side-effect pipeline, services and scheduled jobs.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)
	ctx, cancel := context.WithCancel(context.Background())

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	services.InitSystemLogger(db)

	rawStore, err := docstore.Open(ctx, &cfg.DocStore, db)
	if err != nil {
		logger.Fatalf("Failed to open document store: %v", err)
	}
	ruleSet, err := rules.Load(cfg.Rules.File)
	if err != nil {
		logger.Fatalf("Failed to load security rules: %v", err)
	}
	store := rules.NewGuard(rawStore, ruleSet)
	logger.Info().Str("backend", cfg.DocStore.Backend).Str("rules", cfg.Rules.File).Msg("Document store ready")

	s := &appServices{
		cfg:      cfg,
		db:       db,
		rawStore: rawStore,
		store:    store,
		hub:      services.GetSSEHub(),
		cancel:   cancel,
	}

	s.outbox = services.NewOutboxService(store, &cfg.Outbox)
	s.broker = services.InitBroker(ctx, &cfg.AMQP, s.hub)

	s.relationships = services.NewRelationshipService(store, s.outbox, &cfg.Relationships)
	s.trades = services.NewTradeService(store, s.outbox, &cfg.Trades)
	s.challenges = services.NewChallengeService(store, s.outbox)
	s.gamification = services.NewGamificationService(store, &cfg.Gamification)
	s.portfolio = services.NewPortfolioService(store)
	s.notifications = services.NewNotificationService(store, s.broker, &cfg.Notifications)
	s.reconcile = services.NewReconcileService(store)
	s.auth = services.NewAuthService(db, &cfg.JWT)
	s.systemConfig = services.NewSystemConfigService(db)
	s.systemLogs = services.NewSystemLogService(db)

	services.NewSideEffects(s.gamification, s.portfolio, s.notifications, s.reconcile).Register(s.outbox)

	// Side effects are dispatched by asynq workers when Redis is enabled,
	// otherwise on goroutines of this process
	s.taskQueue = services.InitTaskQueue(cfg)
	if syncQueue, ok := s.taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(s.outbox.Process)
	}
	s.outbox.SetQueue(s.taskQueue)

	if s.taskQueue.IsAsync() {
		s.worker = services.NewWorker(&cfg.Redis)
		if s.worker != nil {
			s.worker.SetProcessor(s.outbox.Process)
			if err := s.worker.Start(); err != nil {
				logger.Errorf("Failed to start worker: %v", err)
			}
		}
	}

	if err := s.auth.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	if cfg.Scheduler.Enabled {
		s.startScheduler()
	}

	return s
}

// startScheduler registers the maintenance jobs. Each job runs as the
// service identity and holds a lock shared by every instance.
func (s *appServices) startScheduler() {
	var locker services.Locker
	if s.cfg.Redis.Enabled {
		s.locker = services.NewRedisLocker(&s.cfg.Redis)
		locker = s.locker
	} else {
		locker = services.NewDBLocker(s.db)
	}
	s.scheduler = services.NewScheduler(locker, 10*time.Minute)

	jobs := []struct {
		name string
		spec string
		fn   services.JobFunc
	}{
		{"outbox", s.cfg.Scheduler.OutboxSpec, func(ctx context.Context) error {
			_, err := s.outbox.DispatchPending(rules.ServiceContext(ctx))
			return err
		}},
		{"reconcile", s.cfg.Scheduler.ReconcileSpec, func(ctx context.Context) error {
			report, err := s.reconcile.ReconcileAll(rules.ServiceContext(ctx))
			if err == nil {
				logger.Info().Interface("report", report).Msg("[Reconcile] sweep finished")
			}
			return err
		}},
		{"auto_complete", s.cfg.Scheduler.AutoCompleteSpec, func(ctx context.Context) error {
			report, err := s.trades.AutoCompleteOverdue(rules.ServiceContext(ctx), time.Now())
			if err == nil && (report.Reminded > 0 || report.Completed > 0) {
				logger.Info().Int("reminded", report.Reminded).Int("completed", report.Completed).Msg("[Trade] auto-complete sweep finished")
			}
			return err
		}},
		{"log_cleanup", s.cfg.Scheduler.LogCleanupSpec, func(ctx context.Context) error {
			_, err := s.systemLogs.RunCleanup()
			return err
		}},
	}
	for _, job := range jobs {
		if err := s.scheduler.Add(job.name, job.spec, job.fn); err != nil {
			logger.Errorf("Failed to schedule %s: %v", job.name, err)
		}
	}
	s.scheduler.Start()
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		logger.Info().Msg("All schedulers stopped")
	}
	if s.locker != nil {
		s.locker.Close()
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	s.cancel()
	if s.broker != nil {
		s.broker.Close()
	}
	if err := s.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close document store")
	}
}
