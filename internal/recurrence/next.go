package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoOccurrence is returned when the weekly search window is exhausted.
// With at most 7 distinct weekdays this should be unreachable for a valid rule.
var ErrNoOccurrence = errors.New("no occurrence within search window")

// weeklySearchDays bounds the weekly forward scan. Two weeks covers any
// weekday+time combination.
const weeklySearchDays = 14

// NextRun returns the first instant strictly after `after` at which the rule
// fires, evaluated in loc. The result is in UTC.
//
// Daylight-saving gaps are tolerated: a wall-clock time that does not exist on
// a given local date resolves to the nearest valid instant (time.Date
// normalization), it never errors.
func NextRun(r Rule, loc *time.Location, after time.Time) (time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	after = after.UTC()

	switch v := r.(type) {
	case Interval:
		d := time.Duration(v.Hours)*time.Hour + time.Duration(v.Minutes)*time.Minute
		if d <= 0 {
			return time.Time{}, fmt.Errorf("interval must be greater than 0")
		}
		return after.Add(d), nil

	case Daily:
		return nextDaily(after.In(loc), sortedTimes(v.Times)), nil

	case Weekly:
		return nextWeekly(after.In(loc), v.Days, sortedTimes(v.Times))

	default:
		return time.Time{}, fmt.Errorf("unknown rule kind %q", r.Kind())
	}
}

func nextDaily(local time.Time, times []TimeOfDay) time.Time {
	// Remaining times today, then the earliest time tomorrow.
	for _, t := range times {
		if c := at(local, 0, t); c.After(local) {
			return c.UTC()
		}
	}
	return at(local, 1, times[0]).UTC()
}

func nextWeekly(local time.Time, days []time.Weekday, times []TimeOfDay) (time.Time, error) {
	set := make(map[time.Weekday]struct{}, len(days))
	for _, d := range days {
		set[d] = struct{}{}
	}

	for offset := 0; offset < weeklySearchDays; offset++ {
		date := local.AddDate(0, 0, offset)
		if _, ok := set[date.Weekday()]; !ok {
			continue
		}
		for _, t := range times {
			if c := at(local, offset, t); c.After(local) {
				return c.UTC(), nil
			}
		}
	}
	return time.Time{}, ErrNoOccurrence
}

// at returns the instant at the given wall-clock time, `days` local dates
// after ref's date, in ref's location.
func at(ref time.Time, days int, t TimeOfDay) time.Time {
	y, m, d := ref.AddDate(0, 0, days).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

// LoadLocation resolves an IANA timezone name. Empty and "UTC" resolve to
// time.UTC without touching the tzdata database.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") || strings.EqualFold(name, "Etc/UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
