package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEventDescriptorFormat(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)

	timed := EventDescriptor{Start: start, End: start.Add(time.Hour)}
	if got := timed.FormatDateTime(); got != "2025-06-01 06:00-07:00" {
		t.Fatalf("timed: got %q", got)
	}

	allDay := EventDescriptor{Start: start, End: start.AddDate(0, 0, 1), AllDay: true}
	if got := allDay.FormatDateTime(); got != "2025-06-01 all day" {
		t.Fatalf("all day: got %q", got)
	}

	open := EventDescriptor{Start: start}
	if got := open.FormatTime(); got != "06:00" {
		t.Fatalf("open-ended: got %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("put: %w", ErrCalendarUnreachable), true},
		{fmt.Errorf("%w: API error 500", ErrFetchFailed), true},
		{fmt.Errorf("put: %w", ErrCalendarRejected), false},
		{ErrMalformedSlot, false},
		{errors.New("other"), false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRunFailuresAndDuration(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	run := Run{
		StartedAt: start,
		Events: []RunEvent{
			{UID: "a", Outcome: OutcomeCreated},
			{UID: "b", Outcome: OutcomeFailed},
			{SlotIndex: 2, Outcome: OutcomeDropped},
			{UID: "c", Outcome: OutcomeUpdated},
		},
	}

	if run.Duration() != 0 {
		t.Fatalf("unfinished run should have zero duration")
	}
	run.FinishedAt = start.Add(3 * time.Second)
	if run.Duration() != 3*time.Second {
		t.Fatalf("got duration %s", run.Duration())
	}

	failures := run.Failures()
	if len(failures) != 2 || failures[0].UID != "b" || failures[1].SlotIndex != 2 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	slot := ForecastSlot{TempMin: Float(1)}
	if slot.HasRange() {
		t.Fatalf("a slot with only a minimum has no range")
	}
}
