package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tazhate/weathercal/internal/domain"
)

const (
	DefaultBaseURL = "https://api.openweathermap.org/data/3.0/onecall"
	ProviderName   = "OpenWeatherMap"

	kelvinOffset = 273.15
	maxBurst     = 5
)

// ErrQuotaExhausted is returned when a fetch would exceed the local share
// of the provider's daily call quota.
var ErrQuotaExhausted = errors.New("weather API daily quota exhausted")

// Client fetches One Call forecasts for a single coordinate pair.
type Client struct {
	baseURL     string
	apiKey      string
	lat, lon    float64
	granularity domain.Granularity
	hourlyStep  int
	dayLoc      *time.Location
	httpClient  *http.Client
	limiter     *rate.Limiter
	now         func() time.Time
}

// NewClient creates a new OpenWeatherMap client with the daily granularity
// and a 1000 calls/day budget.
func NewClient(apiKey string, lat, lon float64) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		apiKey:      apiKey,
		lat:         lat,
		lon:         lon,
		granularity: domain.GranularityDaily,
		hourlyStep:  3,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
	c.SetDailyQuota(1000)
	return c
}

// SetBaseURL overrides the One Call endpoint.
func (c *Client) SetBaseURL(u string) {
	if u != "" {
		c.baseURL = u
	}
}

// SetGranularity selects daily or hourly slots. step is the distance in
// hours between hourly slots and is ignored for daily.
func (c *Client) SetGranularity(g domain.Granularity, step int) {
	c.granularity = g
	if step > 0 {
		c.hourlyStep = step
	}
}

// SetCalendarLocation sets the zone whose dates decide which daily entry
// "current" replaces. Nil uses the provider's zone.
func (c *Client) SetCalendarLocation(loc *time.Location) {
	c.dayLoc = loc
}

// SetDailyQuota spreads quota calls evenly over a day with a small burst
// for manual triggers.
func (c *Client) SetDailyQuota(quota int) {
	if quota < 1 {
		quota = 1
	}
	burst := quota
	if burst > maxBurst {
		burst = maxBurst
	}
	c.limiter = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(quota)), burst)
}

// FetchForecast requests the forecast and reduces it to ordered slots.
func (c *Client) FetchForecast(ctx context.Context) (*domain.Forecast, error) {
	if !c.limiter.Allow() {
		return nil, ErrQuotaExhausted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var oc oneCallResponse
	if err := json.Unmarshal(body, &oc); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	return c.toForecast(&oc), nil
}

func (c *Client) requestURL() string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.lon, 'f', -1, 64))
	q.Set("appid", c.apiKey)
	if c.granularity == domain.GranularityHourly {
		q.Set("exclude", "current,minutely,daily,alerts")
	} else {
		q.Set("exclude", "minutely,hourly,alerts")
	}
	return c.baseURL + "?" + q.Encode()
}

func (c *Client) toForecast(oc *oneCallResponse) *domain.Forecast {
	loc := resolveLocation(oc.Timezone, oc.TimezoneOffset)
	f := &domain.Forecast{
		Provider:  ProviderName,
		Latitude:  c.lat,
		Longitude: c.lon,
		Location:  loc,
		FetchedAt: c.now(),
	}

	if c.granularity == domain.GranularityHourly {
		f.Slots = c.hourlySlots(oc.Hourly, loc)
	} else {
		dayLoc := c.dayLoc
		if dayLoc == nil {
			dayLoc = loc
		}
		f.Slots = dailySlots(oc.Current, oc.Daily, loc, dayLoc)
	}
	return f
}

// dailySlots turns "current" into today's slot and appends the daily
// entries for every other date. Dates are compared in dayLoc.
func dailySlots(cur *currentWeather, days []dailyWeather, loc, dayLoc *time.Location) []domain.ForecastSlot {
	var slots []domain.ForecastSlot
	var today string

	if cur != nil {
		s := domain.ForecastSlot{
			Index:       len(slots),
			Time:        unixIn(cur.Dt, loc),
			Duration:    24 * time.Hour,
			AllDay:      true,
			Temperature: celsius(cur.Temp),
			FeelsLike:   celsius(cur.FeelsLike),
			Humidity:    cur.Humidity,
			WindSpeed:   cur.WindSpeed,
			IsCurrent:   true,
		}
		if cur.Rain != nil {
			s.RainMM = cur.Rain.OneHour
		}
		if cur.Snow != nil {
			s.SnowMM = cur.Snow.OneHour
		}
		applyCondition(&s, cur.Weather)
		s.Summary = "Now: " + s.Description
		if !s.Time.IsZero() {
			today = s.Time.In(dayLoc).Format("2006-01-02")
		}
		slots = append(slots, s)
	}

	for _, d := range days {
		t := unixIn(d.Dt, loc)
		if today != "" && !t.IsZero() && t.In(dayLoc).Format("2006-01-02") == today {
			continue
		}

		s := domain.ForecastSlot{
			Index:             len(slots),
			Time:              t,
			Duration:          24 * time.Hour,
			AllDay:            true,
			Humidity:          d.Humidity,
			WindSpeed:         d.WindSpeed,
			PrecipProbability: d.Pop,
			RainMM:            d.Rain,
			SnowMM:            d.Snow,
		}
		if d.Temp != nil {
			s.Temperature = celsius(d.Temp.Day)
			s.TempMin = celsius(d.Temp.Min)
			s.TempMax = celsius(d.Temp.Max)
		}
		if d.FeelsLike != nil {
			s.FeelsLike = celsius(d.FeelsLike.Day)
		}
		applyCondition(&s, d.Weather)
		s.Summary = d.Summary
		if s.Summary == "" {
			s.Summary = s.Description
		}
		slots = append(slots, s)
	}
	return slots
}

// hourlySlots keeps every step-th local hour. Entries without a timestamp
// are kept so the mapper can report them.
func (c *Client) hourlySlots(hours []hourlyWeather, loc *time.Location) []domain.ForecastSlot {
	var slots []domain.ForecastSlot
	for _, h := range hours {
		t := unixIn(h.Dt, loc)
		if !t.IsZero() && t.Hour()%c.hourlyStep != 0 {
			continue
		}

		s := domain.ForecastSlot{
			Index:             len(slots),
			Time:              t,
			Duration:          time.Duration(c.hourlyStep) * time.Hour,
			Temperature:       celsius(h.Temp),
			FeelsLike:         celsius(h.FeelsLike),
			Humidity:          h.Humidity,
			WindSpeed:         h.WindSpeed,
			PrecipProbability: h.Pop,
		}
		if h.Rain != nil {
			s.RainMM = h.Rain.OneHour
		}
		if h.Snow != nil {
			s.SnowMM = h.Snow.OneHour
		}
		applyCondition(&s, h.Weather)
		slots = append(slots, s)
	}
	return slots
}

func applyCondition(s *domain.ForecastSlot, conds []condition) {
	if len(conds) == 0 {
		return
	}
	s.ConditionCode = conds[0].ID
	s.Description = conds[0].Description
}

func resolveLocation(name string, offset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if offset != 0 {
		return time.FixedZone("UTC"+strconv.Itoa(offset/3600), offset)
	}
	return time.UTC
}

func unixIn(dt *int64, loc *time.Location) time.Time {
	if dt == nil {
		return time.Time{}
	}
	return time.Unix(*dt, 0).In(loc)
}

func celsius(k *float64) *float64 {
	if k == nil {
		return nil
	}
	v := *k - kelvinOffset
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
