package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tazhate/weathercal/config"
	"github.com/tazhate/weathercal/internal/domain"
	"github.com/tazhate/weathercal/internal/logger"
)

// SyncRunner executes one sync pass.
type SyncRunner interface {
	Run(ctx context.Context) (*domain.Run, error)
}

// JournalCleaner drops old run records.
type JournalCleaner interface {
	DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	cfg     *config.Config
	runner  SyncRunner
	cleaner JournalCleaner
	log     *logger.Logger

	ctx context.Context
	now func() time.Time
}

func New(cfg *config.Config, runner SyncRunner, cleaner JournalCleaner, log *logger.Logger) *Scheduler {
	location := cfg.SchedulerLocation()

	c := cron.New(cron.WithLocation(location))

	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		cron:    c,
		cfg:     cfg,
		runner:  runner,
		cleaner: cleaner,
		log:     log,
		ctx:     context.Background(),
		now:     time.Now,
	}
}

// Start registers the jobs and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	syncSpec := fmt.Sprintf("@every %s", s.cfg.PollInterval)
	if _, err := s.cron.AddFunc(syncSpec, s.syncForecast); err != nil {
		return fmt.Errorf("add forecast sync: %w", err)
	}

	if s.cleaner != nil && s.cfg.JournalRetentionDays > 0 {
		if _, err := s.cron.AddFunc("@daily", s.cleanupJournal); err != nil {
			return fmt.Errorf("add journal cleanup: %w", err)
		}
	}

	s.cron.Start()
	s.log.Infow("Scheduler started",
		"tz", s.cfg.SchedulerLocation().String(),
		"interval", s.cfg.PollInterval.String(),
		"run_on_start", s.cfg.RunOnStart,
	)

	if s.cfg.RunOnStart {
		go s.syncForecast()
	}

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) syncForecast() {
	run, err := s.runner.Run(s.ctx)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		s.log.Infow("Skipping sync, previous run still in progress")
	case err != nil:
		s.log.Errorw("Forecast sync failed", "error", err)
	case run.Status != domain.RunSucceeded:
		s.log.Warnw("Forecast sync incomplete", "run", run.ID, "status", run.Status, "retryable", run.Retryable)
	}
}

func (s *Scheduler) cleanupJournal() {
	cutoff := s.now().AddDate(0, 0, -s.cfg.JournalRetentionDays)
	n, err := s.cleaner.DeleteRunsBefore(s.ctx, cutoff)
	if err != nil {
		s.log.Errorw("Journal cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.log.Infow("Journal cleaned up", "deleted", n, "before", cutoff.Format(time.RFC3339))
	}
}
