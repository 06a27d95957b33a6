package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/tradeya/backend/internal/config"
	"github.com/tradeya/backend/internal/metrics"
	"github.com/tradeya/backend/internal/models"
	"github.com/tradeya/backend/pkg/logger"
	"gorm.io/gorm"
)

// Locker elects one instance to run a scheduled job.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

func lockOwner() string {
	host, _ := os.Hostname()
	return host + "-" + uuid.NewString()[:8]
}

// RedisLocker holds locks as expiring keys.
type RedisLocker struct {
	client *redis.Client
	owner  string
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(cfg *config.RedisConfig) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		owner: lockOwner(),
	}
}

func redisLockKey(name string) string {
	return "tradeya:scheduler:" + name
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, redisLockKey(name), l.owner, ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context, name string) error {
	return unlockScript.Run(ctx, l.client, []string{redisLockKey(name)}, l.owner).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// DBLocker holds locks as scheduler_locks rows, for deployments without Redis.
type DBLocker struct {
	db    *gorm.DB
	owner string
}

const dbLockKey = "default"

func NewDBLocker(db *gorm.DB) *DBLocker {
	return &DBLocker{db: db, owner: lockOwner()}
}

func (l *DBLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("lock_name = ? AND lock_key = ? AND expires_at < ?", name, dbLockKey, now).
			Delete(&models.SchedulerLock{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.SchedulerLock{
			LockName:  name,
			LockKey:   dbLockKey,
			LockedBy:  l.owner,
			LockedAt:  now,
			ExpiresAt: now.Add(ttl),
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *DBLocker) Unlock(ctx context.Context, name string) error {
	return l.db.WithContext(ctx).
		Where("lock_name = ? AND lock_key = ? AND locked_by = ?", name, dbLockKey, l.owner).
		Delete(&models.SchedulerLock{}).Error
}

// Job run results, also used as the result label of scheduler_runs_total.
const (
	JobOK      = "ok"
	JobError   = "error"
	JobSkipped = "skipped"
	JobUnknown = "unknown"
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler runs maintenance jobs on cron specs. Every run is guarded by the
// locker so that only one instance executes a given job at a time.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration

	mu   sync.Mutex
	jobs map[string]JobFunc
}

func NewScheduler(locker Locker, lockTTL time.Duration) *Scheduler {
	l := cronLogger{}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l))),
		locker:  locker,
		lockTTL: lockTTL,
		jobs:    map[string]JobFunc{},
	}
}

// Add schedules fn under name. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if spec == "" {
		logger.Infof("[Scheduler] %s disabled", name)
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunJob(context.Background(), name) }); err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs[name] = fn
	s.mu.Unlock()
	logger.Infof("[Scheduler] %s scheduled (cron: %s)", name, spec)
	return nil
}

// RunJob runs a registered job now if this instance wins its lock, and
// returns the result label it recorded.
func (s *Scheduler) RunJob(ctx context.Context, name string) string {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobUnknown
	}

	result := s.run(ctx, name, fn)
	metrics.SchedulerRuns.WithLabelValues(name, result).Inc()
	return result
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) string {
	if s.locker != nil {
		locked, err := s.locker.TryLock(ctx, name, s.lockTTL)
		if err != nil {
			logger.Errorf("[Scheduler] Lock %s failed: %v", name, err)
			return JobError
		}
		if !locked {
			logger.Debugf("[Scheduler] %s is running elsewhere, skipped", name)
			return JobSkipped
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), name); err != nil {
				logger.Warnf("[Scheduler] Unlock %s failed: %v", name, err)
			}
		}()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		logger.Errorf("[Scheduler] %s failed after %s: %v", name, time.Since(start), err)
		return JobError
	}
	logger.Debugf("[Scheduler] %s finished in %s", name, time.Since(start))
	return JobOK
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info().Int("jobs", len(s.cron.Entries())).Msg("[Scheduler] started")
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg("[Cron] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg("[Cron] " + msg)
}
