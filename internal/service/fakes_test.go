package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tazhate/weathercal/internal/clients/caldav"
	"github.com/tazhate/weathercal/internal/domain"
)

// memoryCalendar is an in-memory CalendarStore.
type memoryCalendar struct {
	mu      sync.Mutex
	events  map[string]caldav.Event
	putErr  map[string]error
	findErr map[string]error
	listErr error
	puts    int
	deleted []string
}

func newMemoryCalendar() *memoryCalendar {
	return &memoryCalendar{
		events:  map[string]caldav.Event{},
		putErr:  map[string]error{},
		findErr: map[string]error{},
	}
}

func (m *memoryCalendar) FindEvent(_ context.Context, uid string) (*caldav.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.findErr[uid]; err != nil {
		return nil, err
	}
	ev, ok := m.events[uid]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *memoryCalendar) PutEvent(_ context.Context, event *caldav.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErr[event.UID]; err != nil {
		return err
	}
	if event.Path == "" {
		event.Path = "/cal/" + event.UID + ".ics"
	}
	m.events[event.UID] = *event
	m.puts++
	return nil
}

func (m *memoryCalendar) ListEvents(_ context.Context, from, to time.Time) ([]caldav.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []caldav.Event
	for _, ev := range m.events {
		if ev.StartTime.Before(to) && ev.EndTime.After(from) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *memoryCalendar) DeleteEvent(_ context.Context, event *caldav.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, event.UID)
	m.deleted = append(m.deleted, event.UID)
	return nil
}

func (m *memoryCalendar) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memoryCalendar) get(uid string) caldav.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[uid]
}

type stubFetcher struct {
	forecast *domain.Forecast
	err      error
	calls    int
}

func (f *stubFetcher) FetchForecast(context.Context) (*domain.Forecast, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.forecast, nil
}

type recordingJournal struct {
	runs []*domain.Run
}

func (j *recordingJournal) SaveRun(_ context.Context, run *domain.Run) error {
	j.runs = append(j.runs, run)
	return nil
}

type recordingNotifier struct {
	runs []*domain.Run
}

func (n *recordingNotifier) NotifyRun(_ context.Context, run *domain.Run) error {
	n.runs = append(n.runs, run)
	return nil
}

type countingRecorder struct {
	runs        int
	fetchErrors int
	pruneErrors int
}

func (r *countingRecorder) ObserveRun(*domain.Run) { r.runs++ }
func (r *countingRecorder) ObserveFetchError()     { r.fetchErrors++ }
func (r *countingRecorder) ObservePruneError()     { r.pruneErrors++ }

// clearDay builds timed slots at 06, 12 and 18 UTC on 2025-06-01.
func clearDay(temps ...float64) []domain.ForecastSlot {
	hours := []int{6, 12, 18}
	slots := make([]domain.ForecastSlot, 0, len(temps))
	for i, temp := range temps {
		slots = append(slots, domain.ForecastSlot{
			Index:       i,
			Time:        time.Date(2025, 6, 1, hours[i], 0, 0, 0, time.UTC),
			Duration:    time.Hour,
			Temperature: domain.Float(temp),
			Description: "clear",
		})
	}
	return slots
}
