package domain

import "time"

// EventDescriptor is a calendar event derived from one forecast slot.
// UID is stable for a given slot timestamp, so repeated runs target the
// same calendar object.
type EventDescriptor struct {
	UID       string
	SlotIndex int
	Start     time.Time
	End       time.Time
	AllDay    bool
	Summary   string
	Body      string
}

// FormatTime returns formatted time for display
func (e *EventDescriptor) FormatTime() string {
	if e.AllDay {
		return "all day"
	}
	if e.End.IsZero() {
		return e.Start.Format("15:04")
	}
	return e.Start.Format("15:04") + "-" + e.End.Format("15:04")
}

// FormatDate returns formatted date for display
func (e *EventDescriptor) FormatDate() string {
	return e.Start.Format("2006-01-02")
}

// FormatDateTime returns formatted date and time
func (e *EventDescriptor) FormatDateTime() string {
	return e.FormatDate() + " " + e.FormatTime()
}
