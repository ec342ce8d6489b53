package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tazhate/weathercal/internal/domain"
)

func fixedClient() *Client {
	c := NewClient("https://dav.example.com/", "user", "pass")
	c.now = func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestEventToICS(t *testing.T) {
	Convey("Given an all-day weather event", t, func() {
		berlin := time.FixedZone("CEST", 2*3600)
		event := &Event{
			UID:         "abc@weather-calendar",
			Summary:     "☀️ Clear sky, 20°C",
			Description: "Conditions: clear sky\nHumidity: 40%",
			StartTime:   time.Date(2025, 6, 2, 0, 0, 0, 0, berlin),
			EndTime:     time.Date(2025, 6, 3, 0, 0, 0, 0, berlin),
			AllDay:      true,
		}

		c := fixedClient()
		cal := c.eventToICS(event)
		text := SerializeCalendar(cal)

		Convey("Then it encodes as DATE values with the disabled alarm", func() {
			So(text, ShouldContainSubstring, "PRODID:"+ProductID)
			So(text, ShouldContainSubstring, "DTSTART;VALUE=DATE:20250602")
			So(text, ShouldContainSubstring, "DTEND;VALUE=DATE:20250603")
			So(text, ShouldContainSubstring, "BEGIN:VALARM")
			So(text, ShouldContainSubstring, "ACTION:NONE")
			So(text, ShouldContainSubstring, "19760401T005545Z")
			So(text, ShouldContainSubstring, "X-APPLE-DEFAULT-ALARM:TRUE")
		})

		Convey("Then parsing it back restores the event fields", func() {
			parsed, err := parseCalendarObject(&caldav.CalendarObject{Path: "/cal/abc.ics", Data: cal})
			So(err, ShouldBeNil)
			So(parsed.UID, ShouldEqual, event.UID)
			So(parsed.Path, ShouldEqual, "/cal/abc.ics")
			So(parsed.Summary, ShouldEqual, event.Summary)
			So(parsed.Description, ShouldEqual, event.Description)
			So(parsed.AllDay, ShouldBeTrue)
			So(parsed.StartTime.Format("2006-01-02"), ShouldEqual, "2025-06-02")
			So(parsed.EndTime.Format("2006-01-02"), ShouldEqual, "2025-06-03")
		})
	})

	Convey("Given a timed event with alarms left alone", t, func() {
		c := fixedClient()
		c.SetSuppressDefaultAlarms(false)
		start := time.Date(2025, 6, 2, 12, 0, 0, 0, time.FixedZone("X", 3600))
		cal := c.eventToICS(&Event{UID: "u1", Summary: "s", StartTime: start, EndTime: start.Add(3 * time.Hour)})
		text := SerializeCalendar(cal)

		Convey("Then times are written in UTC and no VALARM is added", func() {
			So(text, ShouldContainSubstring, "DTSTART:20250602T110000Z")
			So(text, ShouldContainSubstring, "DTEND:20250602T140000Z")
			So(text, ShouldContainSubstring, "DTSTAMP:20250601T080000Z")
			So(text, ShouldNotContainSubstring, "VALARM")
		})
	})
}

func TestParseCalendarObject_Invalid(t *testing.T) {
	Convey("Objects without data or UID are rejected", t, func() {
		_, err := parseCalendarObject(&caldav.CalendarObject{Path: "/x"})
		So(err, ShouldNotBeNil)

		cal := ical.NewCalendar()
		cal.Children = append(cal.Children, ical.NewEvent().Component)
		_, err = parseCalendarObject(&caldav.CalendarObject{Path: "/y", Data: cal})
		So(err, ShouldNotBeNil)
	})
}

func TestClassify(t *testing.T) {
	Convey("Given CalDAV failures", t, func() {
		cases := []struct {
			err  error
			want error
		}{
			{&StatusError{Code: http.StatusUnauthorized}, domain.ErrCalendarUnreachable},
			{&StatusError{Code: http.StatusForbidden}, domain.ErrCalendarUnreachable},
			{&StatusError{Code: http.StatusTooManyRequests}, domain.ErrCalendarUnreachable},
			{&StatusError{Code: http.StatusBadGateway}, domain.ErrCalendarUnreachable},
			{&StatusError{Code: http.StatusBadRequest}, domain.ErrCalendarRejected},
			{&StatusError{Code: http.StatusUnsupportedMediaType}, domain.ErrCalendarRejected},
			{&StatusError{Code: http.StatusPreconditionFailed}, domain.ErrCalendarRejected},
			{fmt.Errorf("Put: %w", &StatusError{Code: http.StatusConflict}), domain.ErrCalendarRejected},
			{context.DeadlineExceeded, domain.ErrCalendarUnreachable},
			{errors.New("dial tcp: connection refused"), domain.ErrCalendarUnreachable},
		}

		Convey("Then each maps onto the retry taxonomy", func() {
			for _, tc := range cases {
				So(errors.Is(classify("op", tc.err), tc.want), ShouldBeTrue)
			}
			So(classify("op", nil), ShouldBeNil)
		})

		Convey("Then already classified errors keep their class", func() {
			err := classify("outer", rejected("inner", errors.New("bad")))
			So(errors.Is(err, domain.ErrCalendarRejected), ShouldBeTrue)
			So(errors.Is(err, domain.ErrCalendarUnreachable), ShouldBeFalse)
		})
	})
}

func TestAuthClient(t *testing.T) {
	Convey("Given a server that checks credentials", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != "user" || p != "pass" {
				http.Error(w, "nope", http.StatusUnauthorized)
				return
			}
			if strings.HasSuffix(r.URL.Path, "missing.ics") {
				http.Error(w, "gone", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		good := &authClient{http: srv.Client(), username: "user", password: "pass"}
		bad := &authClient{http: srv.Client(), username: "user", password: "wrong"}

		Convey("Then valid credentials pass through", func() {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/cal/a.ics", nil)
			resp, err := good.Do(req)
			So(err, ShouldBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)
			resp.Body.Close()
		})

		Convey("Then error statuses become StatusError", func() {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/cal/a.ics", nil)
			_, err := bad.Do(req)
			var se *StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Code, ShouldEqual, http.StatusUnauthorized)
			So(se.Body, ShouldEqual, "nope")

			req, _ = http.NewRequest(http.MethodGet, srv.URL+"/cal/missing.ics", nil)
			_, err = good.Do(req)
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestPutEvent_Validation(t *testing.T) {
	Convey("An event without a UID is rejected before any request", t, func() {
		c := fixedClient()
		c.SetCalendarPath("/cal/")
		err := c.PutEvent(context.Background(), &Event{Summary: "x"})
		So(errors.Is(err, domain.ErrCalendarRejected), ShouldBeTrue)
	})
}

func TestObjectPath(t *testing.T) {
	Convey("Object paths live directly under the collection", t, func() {
		So(objectPath("/cal/weather", "u@weather-calendar"), ShouldEqual, "/cal/weather/u@weather-calendar.ics")
		So(objectPath("/cal/weather/", "u"), ShouldEqual, "/cal/weather/u.ics")
	})
}
