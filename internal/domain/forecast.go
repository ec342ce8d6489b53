package domain

import "time"

// Granularity selects which forecast series becomes calendar events.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
)

// ForecastSlot is one timestamped forecast entry returned by the provider.
// Optional measurements are nil when the provider did not send them.
type ForecastSlot struct {
	Index    int           // Provider-assigned position in the response
	Time     time.Time     // Zero when the provider omitted the timestamp
	Duration time.Duration // Slot length, 24h for daily slots
	AllDay   bool

	Temperature       *float64 // °C
	FeelsLike         *float64 // °C
	TempMin           *float64 // °C
	TempMax           *float64 // °C
	Humidity          *float64 // %
	WindSpeed         *float64 // m/s
	PrecipProbability *float64 // 0..1
	RainMM            *float64
	SnowMM            *float64

	ConditionCode int
	Description   string // e.g. "clear sky"
	Summary       string // Provider free text, daily only
	IsCurrent     bool   // Built from the "current" block
}

// HasRange reports whether the slot carries a min/max temperature pair.
func (s ForecastSlot) HasRange() bool {
	return s.TempMin != nil && s.TempMax != nil
}

// Forecast is a fetched provider response reduced to ordered slots.
type Forecast struct {
	Provider  string
	Latitude  float64
	Longitude float64
	Location  *time.Location
	FetchedAt time.Time
	Slots     []ForecastSlot
}

// Float returns a pointer to v. Handy for building slots in code and tests.
func Float(v float64) *float64 {
	return &v
}
