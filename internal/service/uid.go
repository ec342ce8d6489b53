package service

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/tazhate/weathercal/internal/clients/caldav"
)

// DefaultNamespace is the UID purpose prefix for weather events.
const DefaultNamespace = "weather"

// EventUID derives the calendar UID for a slot key.
//
// The formula is md5(namespace + "-" + key) in hex, suffixed with
// "@weather-calendar". Calendars populated by earlier versions are matched
// by this exact string: changing it orphans every existing event and the
// next run creates duplicates. Any change needs a migration that deletes
// or rewrites the old UIDs first.
func EventUID(namespace, key string) string {
	sum := md5.Sum([]byte(namespace + "-" + key))
	return hex.EncodeToString(sum[:]) + "@" + caldav.UIDDomain
}

// SlotKey is the date (all-day) or date+hour (timed) of t in loc.
func SlotKey(t time.Time, allDay bool, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02T15")
}

// IsOwnUID reports whether uid was generated by EventUID.
func IsOwnUID(uid string) bool {
	return strings.HasSuffix(uid, "@"+caldav.UIDDomain)
}
