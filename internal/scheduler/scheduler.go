package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
	"github.com/phqovo/slimming/internal/store"
	syncrun "github.com/phqovo/slimming/internal/sync"
)

// JobRunner executes one sync run for a job config. The orchestrator
// implements it.
type JobRunner interface {
	RunConfig(ctx context.Context, cfg *models.SyncJobConfig, trigger models.TriggerKind) syncrun.Result
}

// JobID derives the scheduler job ID for a config.
func JobID(configID string) string {
	return "sync-job-" + configID
}

type job struct {
	cfg    models.SyncJobConfig
	cancel context.CancelFunc
}

// Scheduler keeps one goroutine per enabled job config. Interval jobs fire on
// a ticker; daily-cron jobs sleep until the next hh:mm occurrence.
type Scheduler struct {
	store  store.Store
	runner JobRunner
	logger *logging.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc

	// intervalFor is a test seam; production uses the config's interval.
	intervalFor func(cfg *models.SyncJobConfig) time.Duration
	now         func() time.Time
}

func New(st store.Store, runner JobRunner, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:  st,
		runner: runner,
		logger: logger,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		stop:   cancel,
		intervalFor: func(cfg *models.SyncJobConfig) time.Duration {
			return time.Duration(cfg.IntervalSeconds) * time.Second
		},
		now: time.Now,
	}
}

// LoadAll registers a job for every enabled config. Called once at startup.
func (s *Scheduler) LoadAll() error {
	configs, err := s.store.ListEnabledSyncConfigs()
	if err != nil {
		return err
	}
	for i := range configs {
		s.UpsertJob(&configs[i])
	}
	s.logger.Info("scheduler loaded", "jobs", len(configs))
	return nil
}

// UpsertJob registers or replaces the job for a config. A disabled config
// removes any running job.
func (s *Scheduler) UpsertJob(cfg *models.SyncJobConfig) {
	id := JobID(cfg.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[id]; ok {
		existing.cancel()
		delete(s.jobs, id)
	}
	if !cfg.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{cfg: *cfg, cancel: cancel}
	s.jobs[id] = j

	s.wg.Add(1)
	go s.run(ctx, j)

	s.logger.Info("scheduled sync job",
		"job_id", id,
		"user_id", cfg.UserID,
		"category", string(cfg.Category),
		"schedule", string(cfg.Schedule))
}

// RemoveJob cancels and forgets the job for a config ID.
func (s *Scheduler) RemoveJob(configID string) {
	id := JobID(configID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.cancel()
		delete(s.jobs, id)
		s.logger.Info("removed sync job", "job_id", id)
	}
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop cancels all jobs and waits for their goroutines to drain.
func (s *Scheduler) Stop() {
	s.stop()

	s.mu.Lock()
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		var wait time.Duration
		switch j.cfg.Schedule {
		case models.ScheduleDailyCron:
			wait = nextCronFire(s.now(), j.cfg.CronHour, j.cfg.CronMinute).Sub(s.now())
		default:
			wait = s.intervalFor(&j.cfg)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, j)
	}
}

func (s *Scheduler) fire(ctx context.Context, j *job) {
	// Re-read the config so edits between fires take effect and a deleted
	// config stops firing even if removal raced.
	cfg, err := s.store.GetSyncConfig(j.cfg.ID)
	if err != nil {
		s.logger.Error("failed to load job config", "config_id", j.cfg.ID, "error", err.Error())
		return
	}
	if cfg == nil || !cfg.Enabled {
		s.logger.Warn("job config gone or disabled, skipping fire", "config_id", j.cfg.ID)
		return
	}

	res := s.runner.RunConfig(ctx, cfg, models.TriggerScheduled)
	if res.Busy {
		s.logger.Warn("scheduled run skipped, sync busy",
			"config_id", cfg.ID, "category", string(cfg.Category))
	}
}

// nextCronFire returns the next hh:mm occurrence strictly after now.
func nextCronFire(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
