package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tazhate/weathercal/internal/clients/caldav"
	"github.com/tazhate/weathercal/internal/domain"
)

// EventWriter is the create/update surface of the calendar store.
type EventWriter interface {
	// FindEvent returns nil, nil when no event has the UID.
	FindEvent(ctx context.Context, uid string) (*caldav.Event, error)
	PutEvent(ctx context.Context, event *caldav.Event) error
}

// UpsertResult is the outcome for one descriptor.
type UpsertResult struct {
	UID       string
	SlotIndex int
	Outcome   domain.Outcome
	Err       error
}

// UpsertReport lists one result per descriptor, in input order.
type UpsertReport struct {
	Results []UpsertResult
}

// Counts tallies the report by outcome.
func (r UpsertReport) Counts() (created, updated, failed int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case domain.OutcomeCreated:
			created++
		case domain.OutcomeUpdated:
			updated++
		case domain.OutcomeFailed:
			failed++
		}
	}
	return created, updated, failed
}

// Failed returns the results that were not written.
func (r UpsertReport) Failed() []UpsertResult {
	var out []UpsertResult
	for _, res := range r.Results {
		if res.Outcome == domain.OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// CalendarUpserter writes event descriptors to a calendar, creating
// events that are absent and overwriting the ones that exist.
type CalendarUpserter struct {
	store       EventWriter
	timeout     time.Duration
	concurrency int
}

// UpserterOption configures a CalendarUpserter.
type UpserterOption func(*CalendarUpserter)

// WithEventTimeout bounds each find+put pair.
func WithEventTimeout(d time.Duration) UpserterOption {
	return func(u *CalendarUpserter) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithConcurrency sets how many descriptors are written at once.
func WithConcurrency(n int) UpserterOption {
	return func(u *CalendarUpserter) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

// NewCalendarUpserter creates an upserter. Defaults: 30s per event, one at a time.
func NewCalendarUpserter(store EventWriter, opts ...UpserterOption) *CalendarUpserter {
	u := &CalendarUpserter{
		store:       store,
		timeout:     30 * time.Second,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upsert writes every descriptor. A failure on one descriptor is recorded
// in its result and never stops the others.
func (u *CalendarUpserter) Upsert(ctx context.Context, events []domain.EventDescriptor) UpsertReport {
	results := make([]UpsertResult, len(events))

	if u.concurrency <= 1 {
		for i, ev := range events {
			results[i] = u.upsertOne(ctx, ev)
		}
		return UpsertReport{Results: results}
	}

	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup
	for i, ev := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ev domain.EventDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = u.upsertOne(ctx, ev)
		}(i, ev)
	}
	wg.Wait()

	return UpsertReport{Results: results}
}

func (u *CalendarUpserter) upsertOne(ctx context.Context, ev domain.EventDescriptor) UpsertResult {
	res := UpsertResult{UID: ev.UID, SlotIndex: ev.SlotIndex}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	existing, err := u.store.FindEvent(ctx, ev.UID)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Err = ensureClassified(fmt.Errorf("find %s: %w", ev.UID, err))
		return res
	}

	event := &caldav.Event{
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Body,
		StartTime:   ev.Start,
		EndTime:     ev.End,
		AllDay:      ev.AllDay,
	}
	res.Outcome = domain.OutcomeCreated
	if existing != nil {
		event.Path = existing.Path
		res.Outcome = domain.OutcomeUpdated
	}

	if err := u.store.PutEvent(ctx, event); err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Err = ensureClassified(fmt.Errorf("put %s: %w", ev.UID, err))
	}
	return res
}

// ensureClassified treats errors the store left unclassified as unreachable.
func ensureClassified(err error) error {
	if errors.Is(err, domain.ErrCalendarUnreachable) || errors.Is(err, domain.ErrCalendarRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrCalendarUnreachable, err)
}
