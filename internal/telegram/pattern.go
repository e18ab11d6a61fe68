package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/nfrelink/telegram-scheduler-bot/internal/recurrence"
)

// patternUsage documents the rule argument syntax for command replies.
const patternUsage = `Pattern syntax:
  interval 2h30m
  daily 09:00,16:30
  weekly monday,friday 12:00,18:00`

// parsePattern turns command arguments into a recurrence rule.
//
//	["interval", "2h30m"]
//	["daily", "09:00,16:30"]
//	["weekly", "monday,friday", "12:00"]
func parsePattern(args []string) (recurrence.Rule, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing pattern\n%s", patternUsage)
	}

	kind := strings.ToLower(args[0])
	rest := args[1:]
	switch kind {
	case "interval":
		if len(rest) != 1 {
			return nil, fmt.Errorf("interval needs a duration, e.g. interval 2h30m")
		}
		return parseIntervalRule(rest[0])
	case "daily":
		if len(rest) != 1 {
			return nil, fmt.Errorf("daily needs a time list, e.g. daily 09:00,16:30")
		}
		times, err := parseTimeList(rest[0])
		if err != nil {
			return nil, err
		}
		return validated(recurrence.Daily{Times: times})
	case "weekly":
		if len(rest) != 2 {
			return nil, fmt.Errorf("weekly needs days and times, e.g. weekly monday,friday 12:00")
		}
		days, err := parseDayList(rest[0])
		if err != nil {
			return nil, err
		}
		times, err := parseTimeList(rest[1])
		if err != nil {
			return nil, err
		}
		return validated(recurrence.Weekly{Days: days, Times: times})
	default:
		return nil, fmt.Errorf("unknown pattern type %q\n%s", kind, patternUsage)
	}
}

func parseIntervalRule(s string) (recurrence.Rule, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("bad interval %q: use Go duration syntax, e.g. 2h30m", s)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if d%time.Minute != 0 {
		return nil, fmt.Errorf("interval must be a whole number of minutes")
	}
	return validated(recurrence.Interval{
		Hours:   int(d / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
	})
}

func parseTimeList(s string) ([]recurrence.TimeOfDay, error) {
	parts := strings.Split(s, ",")
	times := make([]recurrence.TimeOfDay, 0, len(parts))
	for _, p := range parts {
		t, err := recurrence.ParseTimeOfDay(p)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}

func parseDayList(s string) ([]time.Weekday, error) {
	parts := strings.Split(s, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		d, err := recurrence.ParseWeekday(p)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

func validated(r recurrence.Rule) (recurrence.Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// describeRule renders a rule for schedule listings.
func describeRule(r recurrence.Rule) string {
	switch v := r.(type) {
	case recurrence.Interval:
		switch {
		case v.Hours > 0 && v.Minutes > 0:
			return fmt.Sprintf("every %dh%02dm", v.Hours, v.Minutes)
		case v.Hours > 0:
			return fmt.Sprintf("every %dh", v.Hours)
		default:
			return fmt.Sprintf("every %dm", v.Minutes)
		}
	case recurrence.Daily:
		return "daily at " + joinTimes(v.Times)
	case recurrence.Weekly:
		names := make([]string, 0, len(v.Days))
		for _, d := range v.Days {
			names = append(names, strings.ToLower(d.String()))
		}
		return strings.Join(names, ",") + " at " + joinTimes(v.Times)
	default:
		return r.Kind()
	}
}

func joinTimes(times []recurrence.TimeOfDay) string {
	out := make([]string, 0, len(times))
	for _, t := range times {
		out = append(out, t.String())
	}
	return strings.Join(out, ",")
}
