// Package recurrence implements the schedule rule language: fixed intervals,
// daily time-of-day sets, and weekly day+time sets.
//
// Rules are a closed sum type. Everything here is pure computation; callers
// decide how to react to invalid rules.
package recurrence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Rule is a recurrence pattern. Implementations: Interval, Daily, Weekly.
type Rule interface {
	Kind() string
	Validate() error
}

// Interval repeats a fixed duration after the previous run.
type Interval struct {
	Hours   int
	Minutes int
}

// Daily repeats at one or more times of day, every day.
type Daily struct {
	Times []TimeOfDay
}

// Weekly repeats at one or more times of day on a set of weekdays.
type Weekly struct {
	Days  []time.Weekday
	Times []TimeOfDay
}

func (Interval) Kind() string { return "interval" }
func (Daily) Kind() string    { return "daily" }
func (Weekly) Kind() string   { return "weekly" }

func (r Interval) Validate() error {
	if r.Hours < 0 || r.Minutes < 0 {
		return fmt.Errorf("interval hours/minutes must not be negative")
	}
	if r.Hours == 0 && r.Minutes == 0 {
		return fmt.Errorf("interval must include hours and/or minutes greater than 0")
	}
	return nil
}

func (r Daily) Validate() error {
	if len(r.Times) == 0 {
		return fmt.Errorf("daily rule must include at least one time")
	}
	for _, t := range r.Times {
		if !t.valid() {
			return fmt.Errorf("daily time %q out of range", t)
		}
	}
	return nil
}

func (r Weekly) Validate() error {
	if len(r.Days) == 0 {
		return fmt.Errorf("weekly rule must include at least one weekday")
	}
	if len(r.Times) == 0 {
		return fmt.Errorf("weekly rule must include at least one time")
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("weekly rule has invalid weekday %d", int(d))
		}
	}
	for _, t := range r.Times {
		if !t.valid() {
			return fmt.Errorf("weekly time %q out of range", t)
		}
	}
	return nil
}

// TimeOfDay is a wall-clock HH:MM.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) before(u TimeOfDay) bool {
	if t.Hour != u.Hour {
		return t.Hour < u.Hour
	}
	return t.Minute < u.Minute
}

// ParseTimeOfDay parses "HH:MM" (24-hour clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("time %q must be HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time %q must be HH:MM", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("time %q must be HH:MM", s)
	}
	tod := TimeOfDay{Hour: hour, Minute: minute}
	if !tod.valid() {
		return TimeOfDay{}, fmt.Errorf("time %q out of range", s)
	}
	return tod, nil
}

// sortedTimes returns the rule times deduplicated and in ascending order.
func sortedTimes(times []TimeOfDay) []TimeOfDay {
	out := make([]TimeOfDay, 0, len(times))
	seen := make(map[TimeOfDay]struct{}, len(times))
	for _, t := range times {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].before(out[j]) })
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses a full English weekday name (case-insensitive).
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}

// ruleJSON is the stored wire form, e.g.
//
//	{"type":"interval","hours":2,"minutes":30}
//	{"type":"daily","times":["09:00","16:00"]}
//	{"type":"weekly","days":["monday"],"times":["12:00"]}
type ruleJSON struct {
	Type    string   `json:"type"`
	Hours   int      `json:"hours,omitempty"`
	Minutes int      `json:"minutes,omitempty"`
	Days    []string `json:"days,omitempty"`
	Times   []string `json:"times,omitempty"`
}

// Encode serializes a rule to its stored JSON form.
func Encode(r Rule) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	w := ruleJSON{Type: r.Kind()}
	switch v := r.(type) {
	case Interval:
		w.Hours = v.Hours
		w.Minutes = v.Minutes
	case Daily:
		for _, t := range v.Times {
			w.Times = append(w.Times, t.String())
		}
	case Weekly:
		for _, d := range v.Days {
			w.Days = append(w.Days, strings.ToLower(d.String()))
		}
		for _, t := range v.Times {
			w.Times = append(w.Times, t.String())
		}
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind())
	}
	return json.Marshal(w)
}

// Decode parses a stored rule. The result is validated; a malformed or
// unknown-type pattern is an error, never a zero-valued rule.
func Decode(data []byte) (Rule, error) {
	var w ruleJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("rule json: %w", err)
	}

	var r Rule
	switch w.Type {
	case "interval":
		r = Interval{Hours: w.Hours, Minutes: w.Minutes}
	case "daily":
		times, err := parseTimes(w.Times)
		if err != nil {
			return nil, err
		}
		r = Daily{Times: times}
	case "weekly":
		days := make([]time.Weekday, 0, len(w.Days))
		for _, name := range w.Days {
			d, err := ParseWeekday(name)
			if err != nil {
				return nil, err
			}
			days = append(days, d)
		}
		times, err := parseTimes(w.Times)
		if err != nil {
			return nil, err
		}
		r = Weekly{Days: days, Times: times}
	default:
		return nil, fmt.Errorf("unknown rule type %q (supported: interval, daily, weekly)", w.Type)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func parseTimes(raw []string) ([]TimeOfDay, error) {
	times := make([]TimeOfDay, 0, len(raw))
	for _, s := range raw {
		t, err := ParseTimeOfDay(s)
		if err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, nil
}
