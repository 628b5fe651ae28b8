// Package scheduler implements the Scheduler (C9): parsing the cron-list
// and interval schedule grammars, computing next-fire times, triggering
// detection runs, and co-hosting a log-retention sweeper. Follows
// control_plane/scheduler's package shape (a poll loop comparing a cached
// next-fire time against wall clock, reload-on-miss), with the grammar
// itself hand-rolled (see cron.go).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

var log = logrus.WithField("component", "scheduler")

// pollInterval is how often the firing loop checks whether nextRun has
// passed; it is independent of the schedule's own granularity.
const pollInterval = 10 * time.Second

// Trigger is the subset of the Detection Service the scheduler drives.
type Trigger interface {
	TriggerFullDetection(ctx context.Context, syncFirst bool) (int, error)
	TriggerSelectiveDetection(ctx context.Context, channelIDs []string, modelIDsByChannel map[string][]string) (int, error)
}

// Defaults seeds a SchedulerConfig singleton on first boot from
// environment-derived values.
type Defaults struct {
	Enabled              bool
	CronSchedule         string
	Timezone             string
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinDelayMs           int
	MaxDelayMs           int
	DetectAllChannels    bool
	CleanupSchedule      string
	RetentionDays        int
}

// Scheduler fires detection runs on a schedule and sweeps old check logs.
type Scheduler struct {
	repo    store.Repository
	trigger Trigger
	clock   func() time.Time

	mu       sync.RWMutex
	cfg      *store.SchedulerConfig
	sched    Schedule
	nextRun  time.Time
	disabled bool

	cleanupSchedule string
	retentionDays   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New bootstraps a Scheduler: it loads the SchedulerConfig singleton,
// creating one from defaults if absent, and disables firing if the store
// is unreachable at boot.
func New(ctx context.Context, repo store.Repository, trigger Trigger, defaults Defaults) *Scheduler {
	s := &Scheduler{
		repo:            repo,
		trigger:         trigger,
		clock:           time.Now,
		cleanupSchedule: defaults.CleanupSchedule,
		retentionDays:   defaults.RetentionDays,
	}
	s.bootstrap(ctx, defaults)
	return s
}

func (s *Scheduler) bootstrap(ctx context.Context, defaults Defaults) {
	cfg, err := s.repo.GetSchedulerConfig(ctx)
	if err == store.ErrNotFound {
		cfg = &store.SchedulerConfig{
			Enabled:              defaults.Enabled,
			CronSchedule:         defaults.CronSchedule,
			Timezone:             defaults.Timezone,
			ChannelConcurrency:   defaults.ChannelConcurrency,
			MaxGlobalConcurrency: defaults.MaxGlobalConcurrency,
			MinDelayMs:           defaults.MinDelayMs,
			MaxDelayMs:           defaults.MaxDelayMs,
			DetectAllChannels:    defaults.DetectAllChannels,
		}
		cfg.Normalize()
		if saveErr := s.repo.SaveSchedulerConfig(ctx, cfg); saveErr != nil {
			log.WithError(saveErr).Error("scheduler: failed to persist bootstrap config, disabling")
			s.disabled = true
			return
		}
	} else if err != nil {
		log.WithError(err).Error("scheduler: config store unreachable at boot, disabling")
		s.disabled = true
		return
	}

	s.applyConfig(cfg)
}

func (s *Scheduler) applyConfig(cfg *store.SchedulerConfig) {
	sched, err := Parse(cfg.CronSchedule, cfg.Timezone)
	if err != nil {
		log.WithError(err).WithField("schedule", cfg.CronSchedule).Error("scheduler: invalid schedule, disabling")
		s.mu.Lock()
		s.disabled = true
		s.cfg = cfg
		s.mu.Unlock()
		return
	}

	now := s.clock()
	s.mu.Lock()
	s.cfg = cfg
	s.sched = sched
	s.disabled = false
	s.nextRun = sched.Next(now)
	s.mu.Unlock()
}

// Start launches the firing loop and the retention sweeper; it returns
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.fireLoop(runCtx)
	go s.sweepLoop(runCtx)
}

// Stop cancels both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) fireLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeFire(ctx)
		}
	}
}

func (s *Scheduler) maybeFire(ctx context.Context) {
	s.mu.RLock()
	disabled := s.disabled
	cfg := s.cfg
	sched := s.sched
	nextRun := s.nextRun
	s.mu.RUnlock()

	if disabled || cfg == nil || sched == nil || !cfg.Enabled {
		return
	}

	now := s.clock()
	observability.SchedulerNextFireSeconds.Set(nextRun.Sub(now).Seconds())
	if now.Before(nextRun) {
		return
	}

	var fireErr error
	if cfg.DetectAllChannels {
		if _, err := s.trigger.TriggerFullDetection(ctx, true); err != nil {
			log.WithError(err).Error("scheduler: triggerFullDetection failed")
			fireErr = err
		}
	} else {
		if _, err := s.trigger.TriggerSelectiveDetection(ctx, cfg.SelectedChannelIDs, cfg.SelectedModelIDs); err != nil {
			log.WithError(err).Error("scheduler: triggerSelectiveDetection failed")
			fireErr = err
		}
	}
	if fireErr != nil {
		observability.SchedulerFiredTotal.WithLabelValues("error").Inc()
	} else {
		observability.SchedulerFiredTotal.WithLabelValues("ok").Inc()
	}

	s.mu.Lock()
	s.nextRun = sched.Next(s.clock())
	s.mu.Unlock()
	observability.SchedulerNextFireSeconds.Set(s.nextRun.Sub(s.clock()).Seconds())
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	cleanup := s.cleanupSchedule
	if cleanup == "" {
		cleanup = "0 2 * * *"
	}
	sched, err := Parse(cleanup, "")
	if err != nil {
		log.WithError(err).WithField("schedule", cleanup).Error("scheduler: invalid cleanup schedule, sweeper disabled")
		return
	}

	next := sched.Next(s.clock())
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock()
			if now.Before(next) {
				continue
			}
			s.sweep(ctx)
			next = sched.Next(s.clock())
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	days := s.retentionDays
	if days <= 0 {
		days = 7
	}
	cutoff := s.clock().AddDate(0, 0, -days)
	removed, err := s.repo.DeleteCheckLogsOlderThan(ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("scheduler: log retention sweep failed")
		return
	}
	log.WithField("removed", removed).Info("scheduler: log retention sweep complete")
}

// Status is the GET /scheduler response shape.
type Status struct {
	Enabled  bool
	Running  bool
	Schedule string
	NextRun  time.Time
}

// CurrentStatus reports the scheduler's live state.
func (s *Scheduler) CurrentStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return Status{}
	}
	return Status{
		Enabled:  s.cfg.Enabled && !s.disabled,
		Running:  s.cancel != nil,
		Schedule: s.cfg.CronSchedule,
		NextRun:  s.nextRun,
	}
}

// Config returns a copy of the active SchedulerConfig.
func (s *Scheduler) Config() *store.SchedulerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil
	}
	cp := *s.cfg
	return &cp
}

// Reload persists cfg and re-applies it immediately.
func (s *Scheduler) Reload(ctx context.Context, cfg *store.SchedulerConfig) error {
	cfg.Normalize()
	if err := s.repo.SaveSchedulerConfig(ctx, cfg); err != nil {
		return err
	}
	s.applyConfig(cfg)
	return nil
}
