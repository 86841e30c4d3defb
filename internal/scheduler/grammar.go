package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
)

var everyPattern = regexp.MustCompile(`^every\s+(\d+)([mhd])$`)
var dailyPattern = regexp.MustCompile(`^daily\s+(\d{1,2}):(\d{2})$`)

// CalculateNext implements the schedule grammar (4.8):
//   - "every <int><unit>" (unit ∈ {m, h, d}) — relative repeat from now.
//   - "daily HH:MM" — next occurrence at HH:MM local time, advancing a day
//     if today's has passed.
//
// An unrecognized expression returns ok=false, per spec: the caller then
// disables the task rather than rescheduling it.
func CalculateNext(schedule string, now time.Time) (next time.Time, ok bool) {
	if m := everyPattern.FindStringSubmatch(schedule); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, false
		}
		var d time.Duration
		switch m[2] {
		case "m":
			d = time.Duration(n) * time.Minute
		case "h":
			d = time.Duration(n) * time.Hour
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		default:
			return time.Time{}, false
		}
		return now.Add(d), true
	}

	if m := dailyPattern.FindStringSubmatch(schedule); m != nil {
		hh, errH := strconv.Atoi(m[1])
		mm, errM := strconv.Atoi(m[2])
		if errH != nil || errM != nil || hh > 23 || mm > 59 {
			return time.Time{}, false
		}
		// Expressed as a cron tick and resolved with gronx rather than a
		// plain time.Date/AddDate rollover: gronx walks the calendar field
		// by field, so a "daily HH:MM" that lands on a spring-forward or
		// fall-back boundary still ticks at the intended wall-clock time
		// instead of silently drifting by the DST offset.
		cronExpr := fmt.Sprintf("%d %d * * *", mm, hh)
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			return time.Time{}, false
		}
		return next, true
	}

	return time.Time{}, false
}
