package domain

import "errors"

var (
	// ErrMalformedSlot marks a forecast slot missing a required field.
	// The slot is skipped and reported; the batch continues.
	ErrMalformedSlot = errors.New("malformed forecast slot")

	// ErrCalendarUnreachable is a transient CalDAV failure (network,
	// timeout, auth, server error). The next scheduled run retries it.
	ErrCalendarUnreachable = errors.New("calendar unreachable")

	// ErrCalendarRejected means the store refused a specific payload.
	// It is not retried automatically.
	ErrCalendarRejected = errors.New("calendar rejected event")

	// ErrFetchFailed aborts a run: there is nothing to map or upsert.
	ErrFetchFailed = errors.New("forecast fetch failed")

	// ErrRunInProgress is returned when a run is triggered while another
	// one is still going.
	ErrRunInProgress = errors.New("sync run already in progress")
)

// IsRetryable reports whether err is worth retrying on the next tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCalendarUnreachable) || errors.Is(err, ErrFetchFailed)
}
