package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/tazhate/weathercal/internal/domain"
)

const (
	ProductID = "-//weathercal//CalDAV//EN"

	// UIDDomain is the suffix of every UID this service generates. It is
	// how retention pruning recognises its own events.
	UIDDomain = "weather-calendar"
)

// ErrCalendarNotFound is returned when no collection matches the
// configured display name.
var ErrCalendarNotFound = errors.New("calendar not found")

// appleAlarmTrigger is the magic absolute trigger Apple clients use for a
// "disabled" default alarm.
var appleAlarmTrigger = time.Date(1976, 4, 1, 0, 55, 45, 0, time.UTC)

// Client is a CalDAV client bound to one calendar collection
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	calendarName string
	timeout      time.Duration
	noAlarms     bool

	mu     sync.Mutex
	client *caldav.Client
	now    func() time.Time
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		timeout:  30 * time.Second,
		noAlarms: true,
		now:      time.Now,
	}
}

// SetCalendarPath sets the collection to use, skipping discovery
func (c *Client) SetCalendarPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calendarPath = path
}

// SetCalendarName sets the display name looked up when no path is set
func (c *Client) SetCalendarName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calendarName = name
}

// SetTimeout sets the HTTP timeout for every CalDAV request
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// SetSuppressDefaultAlarms controls whether events carry the Apple
// "disabled" VALARM that stops clients adding their default alerts.
func (c *Client) SetSuppressDefaultAlarms(v bool) {
	c.noAlarms = v
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &authClient{
		http:     &http.Client{Timeout: c.timeout},
		username: c.username,
		password: c.password,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, rejected("connect to CalDAV", err)
	}

	c.client = client
	return client, nil
}

// authClient adds Basic Auth to requests and turns error statuses into
// *StatusError so callers can tell transient failures from rejections.
type authClient struct {
	http     *http.Client
	username string
	password string
}

func (a *authClient) Do(req *http.Request) (*http.Response, error) {
	if a.username != "" || a.password != "" {
		req.SetBasicAuth(a.username, a.password)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{
			Method: req.Method,
			URL:    req.URL.Path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classify("find principal", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classify("find home set", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classify("find calendars", err)
	}

	var result []Calendar
	for _, cal := range cals {
		result = append(result, Calendar{
			ID:          cal.Path,
			DisplayName: cal.Name,
			URL:         cal.Path,
		})
	}

	return result, nil
}

// ResolveCalendar returns the collection path, discovering it by display
// name on first use when no explicit path was configured.
func (c *Client) ResolveCalendar(ctx context.Context) (string, error) {
	c.mu.Lock()
	path, name := c.calendarPath, c.calendarName
	c.mu.Unlock()
	if path != "" {
		return path, nil
	}

	if name == "" {
		return "", fmt.Errorf("resolve calendar: %w: %w", domain.ErrCalendarUnreachable, ErrCalendarNotFound)
	}

	cals, err := c.DiscoverCalendars(ctx)
	if err != nil {
		return "", err
	}
	for _, cal := range cals {
		if cal.DisplayName == name {
			c.SetCalendarPath(cal.URL)
			return cal.URL, nil
		}
	}
	return "", fmt.Errorf("resolve calendar %q: %w: %w", name, domain.ErrCalendarUnreachable, ErrCalendarNotFound)
}

// FindEvent looks an event up by UID. It returns nil, nil when the
// calendar has no such event.
func (c *Client) FindEvent(ctx context.Context, uid string) (*Event, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	calendarPath, err := c.ResolveCalendar(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name: "VEVENT",
					Props: []caldav.PropFilter{
						{
							Name:      ical.PropUID,
							TextMatch: &caldav.TextMatch{Text: uid},
						},
					},
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, classify("query event "+uid, err)
	}

	// text-match is a substring match, so confirm the exact UID
	for _, obj := range objects {
		event, err := parseCalendarObject(&obj)
		if err != nil {
			continue
		}
		if event.UID == uid {
			return &event, nil
		}
	}
	return nil, nil
}

// PutEvent stores event at its existing path, or at <calendar>/<uid>.ics
// for a new event. CalDAV PUT replaces the whole object.
func (c *Client) PutEvent(ctx context.Context, event *Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if event.UID == "" {
		return rejected("put event", errors.New("event has no UID"))
	}

	eventPath := event.Path
	if eventPath == "" {
		calendarPath, err := c.ResolveCalendar(ctx)
		if err != nil {
			return err
		}
		eventPath = objectPath(calendarPath, event.UID)
	}

	cal := c.eventToICS(event)
	if _, err := encodeCalendar(cal); err != nil {
		return rejected("encode event "+event.UID, err)
	}

	if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
		return classify("put event "+event.UID, err)
	}

	event.Path = eventPath
	return nil
}

// ListEvents returns events overlapping [from, to)
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}
	calendarPath, err := c.ResolveCalendar(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, classify("query calendar", err)
	}

	var events []Event
	for _, obj := range objects {
		event, err := parseCalendarObject(&obj)
		if err != nil {
			continue // Skip invalid events
		}
		events = append(events, event)
	}

	return events, nil
}

// DeleteEvent removes an event from the calendar
func (c *Client) DeleteEvent(ctx context.Context, event *Event) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	eventPath := event.Path
	if eventPath == "" {
		calendarPath, err := c.ResolveCalendar(ctx)
		if err != nil {
			return err
		}
		eventPath = objectPath(calendarPath, event.UID)
	}

	if err := client.RemoveAll(ctx, eventPath); err != nil {
		return classify("delete event "+event.UID, err)
	}
	return nil
}

func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + uid + ".ics"
}

// parseCalendarObject parses a CalDAV object into an Event
func parseCalendarObject(obj *caldav.CalendarObject) (Event, error) {
	event := Event{Path: obj.Path}

	if obj.Data == nil {
		return event, fmt.Errorf("no data in calendar object")
	}

	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			event.UID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			event.Summary = textValue(prop)
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			event.Description = textValue(prop)
		}

		if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				event.StartTime = t
			}
			if valueType := prop.Params.Get(ical.ParamValue); valueType == string(ical.ValueDate) {
				event.AllDay = true
			}
		}
		if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
			if t, err := prop.DateTime(time.UTC); err == nil {
				event.EndTime = t
			}
		}

		break // Only process first VEVENT
	}

	if event.UID == "" {
		return event, fmt.Errorf("calendar object %s has no VEVENT UID", obj.Path)
	}
	return event, nil
}

// textValue unescapes TEXT values, falling back to the raw value
func textValue(prop *ical.Prop) string {
	if text, err := prop.Text(); err == nil {
		return text
	}
	return prop.Value
}

// eventToICS converts an Event to iCalendar format
func (c *Client) eventToICS(event *Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}

	if event.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, event.StartTime)
		if !event.EndTime.IsZero() {
			vevent.Props.SetDate(ical.PropDateTimeEnd, event.EndTime)
		}
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
		if !event.EndTime.IsZero() {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
		}
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())

	if c.noAlarms {
		vevent.Children = append(vevent.Children, disabledAlarm())
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}

// disabledAlarm builds the VALARM Apple Calendar treats as "no alert",
// which stops per-calendar default alerts being applied.
func disabledAlarm() *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "NONE")

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetDateTime(appleAlarmTrigger)
	trigger.Params.Set(ical.ParamValue, string(ical.ValueDateTime))
	alarm.Props.Set(trigger)

	alarm.Props.SetText("X-APPLE-DEFAULT-ALARM", "TRUE")
	alarm.Props.SetText("X-APPLE-LOCAL-DEFAULT-ALARM", "TRUE")
	return alarm
}

func encodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeCalendar converts calendar to string (for debugging)
func SerializeCalendar(cal *ical.Calendar) string {
	b, _ := encodeCalendar(cal)
	return string(b)
}
