package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/weathercal/internal/clients/caldav"
	"github.com/tazhate/weathercal/internal/domain"
	"github.com/tazhate/weathercal/internal/logger"
)

// pruneLookbackDays limits how far back the retention query reaches.
const pruneLookbackDays = 90

// ForecastFetcher returns the current forecast.
type ForecastFetcher interface {
	FetchForecast(ctx context.Context) (*domain.Forecast, error)
}

// CalendarStore is the calendar as seen by a sync run.
type CalendarStore interface {
	EventWriter
	ListEvents(ctx context.Context, from, to time.Time) ([]caldav.Event, error)
	DeleteEvent(ctx context.Context, event *caldav.Event) error
}

// RunJournal persists finished runs.
type RunJournal interface {
	SaveRun(ctx context.Context, run *domain.Run) error
}

// Notifier reports runs to a human.
type Notifier interface {
	NotifyRun(ctx context.Context, run *domain.Run) error
}

// RunRecorder receives run metrics.
type RunRecorder interface {
	ObserveRun(run *domain.Run)
	ObserveFetchError()
	ObservePruneError()
}

// SyncOptions tunes a SyncService.
type SyncOptions struct {
	// Location decides what "today" is for retention. Nil uses the
	// forecast's own zone.
	Location        *time.Location
	KeepPastDays    int
	RunTimeout      time.Duration
	NotifyOnSuccess bool
}

// SyncService runs the fetch, map, upsert and prune pipeline.
type SyncService struct {
	fetcher  ForecastFetcher
	mapper   *ForecastMapper
	upserter *CalendarUpserter
	store    CalendarStore
	opts     SyncOptions
	log      *logger.Logger

	journal  RunJournal
	notifier Notifier
	recorder RunRecorder

	running sync.Mutex
	now     func() time.Time
}

// NewSyncService creates a sync service
func NewSyncService(fetcher ForecastFetcher, mapper *ForecastMapper, store CalendarStore, upserter *CalendarUpserter, opts SyncOptions, log *logger.Logger) *SyncService {
	if log == nil {
		log = logger.Nop()
	}
	return &SyncService{
		fetcher:  fetcher,
		mapper:   mapper,
		upserter: upserter,
		store:    store,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// SetJournal sets where finished runs are recorded
func (s *SyncService) SetJournal(j RunJournal) {
	s.journal = j
}

// SetNotifier sets who is told about failed runs
func (s *SyncService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetRecorder sets the metrics sink
func (s *SyncService) SetRecorder(r RunRecorder) {
	s.recorder = r
}

// Run executes one pipeline pass. The returned run is always populated
// unless another run is in progress; err is non-nil only when the forecast
// could not be fetched.
func (s *SyncService) Run(ctx context.Context) (*domain.Run, error) {
	if !s.running.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	defer s.running.Unlock()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		StartedAt: s.now(),
	}
	err := s.execute(ctx, run)
	run.FinishedAt = s.now()

	s.finish(ctx, run)
	return run, err
}

func (s *SyncService) execute(ctx context.Context, run *domain.Run) error {
	forecast, err := s.fetcher.FetchForecast(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
		run.Status = domain.RunFailed
		run.Retryable = true
		run.Error = err.Error()
		if s.recorder != nil {
			s.recorder.ObserveFetchError()
		}
		return err
	}

	run.Slots = len(forecast.Slots)
	mapped := s.mapper.Map(forecast.Slots)
	for _, d := range mapped.Dropped {
		s.log.Warnw("Dropped forecast slot", "run", run.ID, "slot", d.Index, "error", d.Err)
		run.Events = append(run.Events, domain.RunEvent{
			SlotIndex: d.Index,
			Outcome:   domain.OutcomeDropped,
			Error:     d.Err.Error(),
		})
	}
	run.Dropped = len(mapped.Dropped)
	for _, ev := range mapped.Events {
		s.log.Debugw("Mapped slot", "run", run.ID, "slot", ev.SlotIndex, "uid", ev.UID, "when", ev.FormatDateTime(), "summary", ev.Summary)
	}

	report := s.upserter.Upsert(ctx, mapped.Events)
	for _, r := range report.Results {
		ev := domain.RunEvent{UID: r.UID, SlotIndex: r.SlotIndex, Outcome: r.Outcome}
		if r.Err != nil {
			ev.Error = r.Err.Error()
			if domain.IsRetryable(r.Err) {
				run.Retryable = true
			}
			s.log.Warnw("Upsert failed", "run", run.ID, "uid", r.UID, "slot", r.SlotIndex, "error", r.Err)
		}
		run.Events = append(run.Events, ev)
	}
	run.Created, run.Updated, run.Failed = report.Counts()
	run.Status = deriveStatus(run)

	if run.Failed > 0 {
		first := report.Failed()[0]
		run.Error = fmt.Sprintf("%d of %d events failed, first: %v", run.Failed, len(report.Results), first.Err)
	} else if run.Status == domain.RunFailed && run.Dropped > 0 {
		run.Error = fmt.Sprintf("all %d slots were malformed", run.Dropped)
	}

	if run.Created+run.Updated > 0 {
		run.Pruned = s.prune(ctx, run, forecast.Location, mapped.Events)
	}
	return nil
}

// deriveStatus: succeeded when nothing was dropped or failed, failed when
// nothing was written, partial otherwise.
func deriveStatus(run *domain.Run) domain.RunStatus {
	switch {
	case run.Failed == 0 && run.Dropped == 0:
		return domain.RunSucceeded
	case run.Created+run.Updated == 0:
		return domain.RunFailed
	default:
		return domain.RunPartial
	}
}

// prune deletes this service's events that ended up before the retention
// cutoff. Errors are logged and skipped.
func (s *SyncService) prune(ctx context.Context, run *domain.Run, forecastLoc *time.Location, current []domain.EventDescriptor) int {
	if s.opts.KeepPastDays < 0 {
		return 0
	}

	loc := s.opts.Location
	if loc == nil {
		loc = forecastLoc
	}
	if loc == nil {
		loc = time.Local
	}

	cutoff := pruneCutoff(s.now(), loc, s.opts.KeepPastDays)
	from := cutoff.AddDate(0, 0, -pruneLookbackDays)

	events, err := s.store.ListEvents(ctx, from, cutoff)
	if err != nil {
		s.log.Warnw("Failed to list events for pruning", "run", run.ID, "error", err)
		if s.recorder != nil {
			s.recorder.ObservePruneError()
		}
		return 0
	}

	keep := make(map[string]bool, len(current))
	for _, ev := range current {
		keep[ev.UID] = true
	}

	pruned := 0
	for i := range events {
		ev := &events[i]
		if !IsOwnUID(ev.UID) || keep[ev.UID] || !startsBefore(ev, cutoff) {
			continue
		}
		if err := s.store.DeleteEvent(ctx, ev); err != nil {
			s.log.Warnw("Failed to prune event", "run", run.ID, "uid", ev.UID, "error", err)
			if s.recorder != nil {
				s.recorder.ObservePruneError()
			}
			continue
		}
		pruned++
	}
	return pruned
}

// pruneCutoff is local midnight keepDays before now.
func pruneCutoff(now time.Time, loc *time.Location, keepDays int) time.Time {
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -keepDays)
}

// startsBefore compares all-day events by calendar date, since servers
// return their DATE start as UTC midnight.
func startsBefore(ev *caldav.Event, cutoff time.Time) bool {
	start := ev.StartTime
	if ev.AllDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, cutoff.Location())
	}
	return start.Before(cutoff)
}

func (s *SyncService) finish(ctx context.Context, run *domain.Run) {
	s.log.Infow("Sync run finished",
		"run", run.ID,
		"status", run.Status,
		"slots", run.Slots,
		"created", run.Created,
		"updated", run.Updated,
		"dropped", run.Dropped,
		"failed", run.Failed,
		"pruned", run.Pruned,
		"retryable", run.Retryable,
		"duration", run.Duration(),
	)

	if s.recorder != nil {
		s.recorder.ObserveRun(run)
	}

	// The run context may already be past its deadline.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.SaveRun(bg, run); err != nil {
			s.log.Errorw("Failed to save run", "run", run.ID, "error", err)
		}
	}

	if s.notifier != nil && (run.Status != domain.RunSucceeded || s.opts.NotifyOnSuccess) {
		if err := s.notifier.NotifyRun(bg, run); err != nil {
			s.log.Warnw("Failed to send run notification", "run", run.ID, "error", err)
		}
	}
}
