package service

import (
	"fmt"
	"text/template"
	"time"

	"github.com/tazhate/weathercal/internal/domain"
)

// MapperConfig configures ForecastMapper.
type MapperConfig struct {
	// Location is the calendar time zone. Nil keeps each slot's own zone.
	Location        *time.Location
	Namespace       string
	SummaryTemplate string
	BodyTemplate    string
}

// ForecastMapper turns forecast slots into calendar event descriptors.
// Map is pure: it touches neither the network nor any shared state, so a
// mapper can be reused across runs and goroutines.
type ForecastMapper struct {
	loc       *time.Location
	namespace string
	summary   *template.Template
	body      *template.Template
}

// DroppedSlot is a slot the mapper could not turn into an event.
type DroppedSlot struct {
	Index int
	Err   error
}

// MapResult holds descriptors for every well-formed slot, in input order,
// and the slots that were skipped.
type MapResult struct {
	Events  []domain.EventDescriptor
	Dropped []DroppedSlot
}

// NewForecastMapper parses the templates and trial-renders them against a
// sample slot so template mistakes surface at startup.
func NewForecastMapper(cfg MapperConfig) (*ForecastMapper, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.SummaryTemplate == "" {
		cfg.SummaryTemplate = DefaultSummaryTemplate
	}
	if cfg.BodyTemplate == "" {
		cfg.BodyTemplate = DefaultBodyTemplate
	}

	summary, err := parseTemplate("summary", cfg.SummaryTemplate)
	if err != nil {
		return nil, err
	}
	body, err := parseTemplate("body", cfg.BodyTemplate)
	if err != nil {
		return nil, err
	}

	m := &ForecastMapper{
		loc:       cfg.Location,
		namespace: cfg.Namespace,
		summary:   summary,
		body:      body,
	}

	sample := domain.ForecastSlot{
		Time:        time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		AllDay:      true,
		Temperature: domain.Float(20),
		TempMin:     domain.Float(15),
		TempMax:     domain.Float(25),
		Description: "clear sky",
	}
	if _, err := m.mapSlot(sample); err != nil {
		return nil, fmt.Errorf("validate templates: %w", err)
	}
	return m, nil
}

// Map converts slots to descriptors. A slot missing its timestamp or
// temperature is dropped with ErrMalformedSlot; the rest of the batch is
// still mapped. A slot that lands on the same event as an earlier one is
// dropped too, so every UID appears at most once.
func (m *ForecastMapper) Map(slots []domain.ForecastSlot) MapResult {
	var res MapResult
	seen := make(map[string]int, len(slots))
	for _, s := range slots {
		ev, err := m.mapSlot(s)
		if err == nil {
			if first, dup := seen[ev.UID]; dup {
				err = fmt.Errorf("slot %d: %w: same event as slot %d", s.Index, domain.ErrMalformedSlot, first)
			}
		}
		if err != nil {
			res.Dropped = append(res.Dropped, DroppedSlot{Index: s.Index, Err: err})
			continue
		}
		seen[ev.UID] = s.Index
		res.Events = append(res.Events, ev)
	}
	return res
}

func (m *ForecastMapper) mapSlot(s domain.ForecastSlot) (domain.EventDescriptor, error) {
	if s.Time.IsZero() {
		return domain.EventDescriptor{}, fmt.Errorf("slot %d: %w: missing timestamp", s.Index, domain.ErrMalformedSlot)
	}
	if s.Temperature == nil {
		return domain.EventDescriptor{}, fmt.Errorf("slot %d: %w: missing temperature", s.Index, domain.ErrMalformedSlot)
	}

	start, end := m.window(s)
	view := newSlotView(s, start)

	summary, err := render(m.summary, view)
	if err != nil {
		return domain.EventDescriptor{}, fmt.Errorf("slot %d: render summary: %w", s.Index, err)
	}
	body, err := render(m.body, view)
	if err != nil {
		return domain.EventDescriptor{}, fmt.Errorf("slot %d: render body: %w", s.Index, err)
	}

	return domain.EventDescriptor{
		UID:       EventUID(m.namespace, SlotKey(s.Time, s.AllDay, m.loc)),
		SlotIndex: s.Index,
		Start:     start,
		End:       end,
		AllDay:    s.AllDay,
		Summary:   summary,
		Body:      body,
	}, nil
}

// window returns the event span: local midnight to midnight for all-day
// slots, otherwise the slot's hour for its duration.
func (m *ForecastMapper) window(s domain.ForecastSlot) (time.Time, time.Time) {
	t := s.Time
	if m.loc != nil {
		t = t.In(m.loc)
	}
	if s.AllDay {
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return start, start.AddDate(0, 0, 1)
	}

	start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	d := s.Duration
	if d <= 0 {
		d = time.Hour
	}
	return start, start.Add(d)
}
