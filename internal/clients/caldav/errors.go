package caldav

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tazhate/weathercal/internal/domain"
)

// StatusError is returned for any HTTP response with status >= 400.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// classify wraps err with ErrCalendarUnreachable or ErrCalendarRejected.
// Auth failures, throttling and server errors are transient; any other
// 4xx means the server refused this payload. Errors that carry no status
// (DNS, TCP, TLS, timeouts, malformed server replies) count as unreachable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCalendarUnreachable) || errors.Is(err, domain.ErrCalendarRejected) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized,
			se.Code == http.StatusForbidden,
			se.Code == http.StatusRequestTimeout,
			se.Code == http.StatusTooManyRequests,
			se.Code >= 500:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrCalendarUnreachable, err)
		default:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrCalendarRejected, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrCalendarUnreachable, err)
}

func rejected(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrCalendarRejected, err)
}
