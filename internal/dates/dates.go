// Package dates converts timestamps to the students' display timezone
// and counts calendar days between them.
package dates

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dustin/go-humanize"
)

// CalendarDays returns the number of calendar days from earlier to later
// as seen in loc. 23:59 today and 00:01 tomorrow are one day apart.
func CalendarDays(later, earlier time.Time, loc *time.Location) int {
	ly, lm, ld := later.In(loc).Date()
	ey, em, ed := earlier.In(loc).Date()
	a := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	b := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

// isoLayouts are accepted by ParseISO, most specific first.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseISO parses an ISO-8601 date or date-time. Values without an
// offset are taken to be in loc. The result is expressed in loc.
func ParseISO(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	for i, layout := range isoLayouts {
		var (
			t   time.Time
			err error
		)
		if i == 0 {
			t, err = time.Parse(layout, s)
		} else {
			t, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 timestamp", s)
}

// FormatDue renders a due date for a student, for example
// "Monday, 09/03/2026, 05:30 PM (3 days from now)". A nil time is
// "Unknown".
func FormatDue(due *time.Time, now time.Time, loc *time.Location) string {
	if due == nil {
		return "Unknown"
	}
	local := due.In(loc)
	return fmt.Sprintf("%s (%s)", local.Format("Monday, 02/01/2006, 03:04 PM"), Relative(*due, now, loc))
}

// Relative describes how many calendar days away t is from now.
func Relative(t, now time.Time, loc *time.Location) string {
	days := CalendarDays(t, now, loc)
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	case -1:
		return "yesterday"
	}
	ny, nm, nd := now.In(loc).Date()
	base := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return humanize.RelTime(base.AddDate(0, 0, days), base, "ago", "from now")
}

// FormatNow renders the current time for the system prompt.
func FormatNow(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("Monday, 2 January 2006, 03:04 PM MST")
}
