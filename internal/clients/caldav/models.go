package caldav

import "time"

// Calendar represents a calendar collection on the server
type Calendar struct {
	ID          string // Calendar path/URL
	DisplayName string
	URL         string
}

// Event represents a calendar event
type Event struct {
	UID         string // Unique ID in CalDAV
	Path        string // Object path; empty for events not yet stored
	Summary     string // Title
	Description string
	StartTime   time.Time
	EndTime     time.Time
	AllDay      bool
}
