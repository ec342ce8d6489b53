package openweather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weathercal/internal/domain"
)

const dailyPayload = `{
  "lat": 52.52, "lon": 13.405, "timezone": "UTC", "timezone_offset": 0,
  "current": {"dt": 1748779200, "temp": 293.15, "feels_like": 292.15, "humidity": 40, "wind_speed": 3.5,
              "weather": [{"id": 800, "main": "Clear", "description": "clear sky"}], "rain": {"1h": 0.2}},
  "daily": [
    {"dt": 1748775600, "summary": "today", "temp": {"day": 294.15, "min": 285.15, "max": 296.15},
     "feels_like": {"day": 293.15}, "humidity": 50, "wind_speed": 4, "pop": 0.1,
     "weather": [{"id": 800, "description": "clear sky"}]},
    {"dt": 1748862000, "summary": "Expect rain", "temp": {"day": 290.15, "min": 284.15, "max": 291.15},
     "humidity": 80, "wind_speed": 6, "pop": 0.9, "rain": 4.2,
     "weather": [{"id": 500, "description": "light rain"}]},
    {"dt": 1748948400, "humidity": 70, "weather": [{"id": 803, "description": "broken clouds"}]}
  ]
}`

const hourlyPayload = `{
  "timezone": "UTC",
  "hourly": [
    {"dt": 1748757600, "temp": 288.15, "weather": [{"id": 800, "description": "clear sky"}]},
    {"dt": 1748761200, "temp": 289.15, "weather": [{"id": 800, "description": "clear sky"}]},
    {"dt": 1748768400, "temp": 291.15, "weather": [{"id": 801, "description": "few clouds"}]},
    {"temp": 292.15},
    {"dt": 1748779200, "temp": 298.15, "pop": 0.3, "weather": [{"id": 800, "description": "clear sky"}]}
  ]
}`

func newTestClient(url string) *Client {
	c := NewClient("secret", 52.52, 13.405)
	c.SetBaseURL(url)
	return c
}

func TestFetchForecast_Daily(t *testing.T) {
	Convey("Given a One Call server returning daily data", t, func() {
		var gotQuery map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			gotQuery = map[string]string{
				"lat": q.Get("lat"), "lon": q.Get("lon"), "appid": q.Get("appid"), "exclude": q.Get("exclude"),
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(dailyPayload))
		}))
		defer srv.Close()

		f, err := newTestClient(srv.URL).FetchForecast(context.Background())

		Convey("Then the request carries coordinates and key as query parameters", func() {
			So(err, ShouldBeNil)
			So(gotQuery["lat"], ShouldEqual, "52.52")
			So(gotQuery["lon"], ShouldEqual, "13.405")
			So(gotQuery["appid"], ShouldEqual, "secret")
			So(gotQuery["exclude"], ShouldEqual, "minutely,hourly,alerts")
		})

		Convey("Then current replaces today's daily entry and temperatures are in Celsius", func() {
			So(err, ShouldBeNil)
			So(f.Provider, ShouldEqual, ProviderName)
			So(f.Slots, ShouldHaveLength, 3)

			today := f.Slots[0]
			So(today.IsCurrent, ShouldBeTrue)
			So(today.AllDay, ShouldBeTrue)
			So(*today.Temperature, ShouldAlmostEqual, 20.0, 0.001)
			So(*today.RainMM, ShouldAlmostEqual, 0.2)
			So(today.Description, ShouldEqual, "clear sky")
			So(today.TempMin, ShouldBeNil)

			tomorrow := f.Slots[1]
			So(tomorrow.Time.Format("2006-01-02"), ShouldEqual, "2025-06-02")
			So(*tomorrow.TempMin, ShouldAlmostEqual, 11.0, 0.001)
			So(*tomorrow.TempMax, ShouldAlmostEqual, 18.0, 0.001)
			So(*tomorrow.PrecipProbability, ShouldAlmostEqual, 0.9)
			So(tomorrow.Summary, ShouldEqual, "Expect rain")
			So(tomorrow.Index, ShouldEqual, 1)
		})

		Convey("Then a daily entry without temperature keeps a nil temperature", func() {
			So(f.Slots[2].Temperature, ShouldBeNil)
			So(f.Slots[2].Summary, ShouldEqual, "broken clouds")
		})
	})
}

const farEastPayload = `{
  "timezone_offset": 43200,
  "current": {"dt": 1748775600, "temp": 293.15, "weather": [{"id": 800, "description": "clear sky"}]},
  "daily": [
    {"dt": 1748736000, "temp": {"day": 294.15}, "weather": [{"id": 800, "description": "clear sky"}]},
    {"dt": 1748822400, "temp": {"day": 290.15}, "weather": [{"id": 500, "description": "light rain"}]},
    {"dt": 1748908800, "temp": {"day": 291.15}, "weather": [{"id": 803, "description": "broken clouds"}]}
  ]
}`

func TestFetchForecast_CalendarZone(t *testing.T) {
	Convey("Given a provider at UTC+12 and a calendar at UTC-10", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(farEastPayload))
		}))
		defer srv.Close()

		hst := time.FixedZone("HST", -10*60*60)
		c := newTestClient(srv.URL)
		c.SetCalendarLocation(hst)
		f, err := c.FetchForecast(context.Background())

		Convey("Then current replaces the entry sharing its calendar date", func() {
			So(err, ShouldBeNil)
			var dates []string
			for _, s := range f.Slots {
				dates = append(dates, s.Time.In(hst).Format("2006-01-02"))
			}
			So(dates, ShouldResemble, []string{"2025-06-01", "2025-05-31", "2025-06-02"})
			So(f.Slots[0].IsCurrent, ShouldBeTrue)
			So(f.Slots[2].Index, ShouldEqual, 2)
		})
	})
}

func TestFetchForecast_Hourly(t *testing.T) {
	Convey("Given hourly granularity with a 6 hour step", t, func() {
		var exclude string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exclude = r.URL.Query().Get("exclude")
			w.Write([]byte(hourlyPayload))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.SetGranularity(domain.GranularityHourly, 6)
		f, err := c.FetchForecast(context.Background())

		Convey("Then only step hours and undated entries become slots", func() {
			So(err, ShouldBeNil)
			So(exclude, ShouldEqual, "current,minutely,daily,alerts")
			So(f.Slots, ShouldHaveLength, 3)
			So(f.Slots[0].Time.Hour(), ShouldEqual, 6)
			So(f.Slots[0].Duration, ShouldEqual, 6*time.Hour)
			So(f.Slots[0].AllDay, ShouldBeFalse)
			So(f.Slots[1].Time.IsZero(), ShouldBeTrue)
			So(f.Slots[2].Time.Hour(), ShouldEqual, 12)
			So(*f.Slots[2].Temperature, ShouldAlmostEqual, 25.0, 0.001)
		})
	})
}

func TestFetchForecast_Errors(t *testing.T) {
	Convey("Given a provider answering 401", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).FetchForecast(context.Background())

		Convey("Then the fetch fails with the status in the error", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "401")
		})
	})

	Convey("Given a quota of one call per day", t, func() {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(dailyPayload))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.SetDailyQuota(1)

		_, first := c.FetchForecast(context.Background())
		_, second := c.FetchForecast(context.Background())

		Convey("Then the second call is refused locally", func() {
			So(first, ShouldBeNil)
			So(errors.Is(second, ErrQuotaExhausted), ShouldBeTrue)
			So(calls, ShouldEqual, 1)
		})
	})
}

func TestResolveLocation(t *testing.T) {
	Convey("Unknown zone names fall back to the numeric offset", t, func() {
		loc := resolveLocation("Nowhere/Invalid", 3600)
		_, off := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
		So(off, ShouldEqual, 3600)
		So(resolveLocation("", 0), ShouldEqual, time.UTC)
	})
}
