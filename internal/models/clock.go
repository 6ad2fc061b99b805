package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeOfDay is a wall-clock HH:MM without a zone. It is interpreted in the
// location the engine runs in.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "H:MM" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	if n := len(parts[0]); n < 1 || n > 2 || !digits(parts[0]) {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	if len(parts[1]) != 2 || !digits(parts[1]) {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustTimeOfDay is ParseTimeOfDay for constants and tests.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On combines the wall-clock time with a calendar date in loc.
func (t TimeOfDay) On(d civil.Date, loc *time.Location) time.Time {
	return civil.DateTime{Date: d, Time: civil.Time{Hour: t.Hour, Minute: t.Minute}}.In(loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Weekday returns the day of week of a civil date.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Weekdays is a sorted set of weekdays, Sunday=0.
type Weekdays []time.Weekday

// NewWeekdays builds a sorted, de-duplicated set from integers 0-6.
func NewWeekdays(days ...int) (Weekdays, error) {
	seen := make(map[int]bool, len(days))
	out := make(Weekdays, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("weekday %d out of range 0-6", d)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, time.Weekday(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ParseWeekdays parses a comma separated list such as "1,3,5". An empty
// string yields an empty set.
func ParseWeekdays(s string) (Weekdays, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	var days []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		days = append(days, d)
	}
	return NewWeekdays(days...)
}

func (w Weekdays) Contains(d time.Weekday) bool {
	for _, x := range w {
		if x == d {
			return true
		}
	}
	return false
}

func (w Weekdays) Ints() []int {
	out := make([]int, len(w))
	for i, d := range w {
		out[i] = int(d)
	}
	return out
}

func (w Weekdays) String() string {
	parts := make([]string, len(w))
	for i, d := range w {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

// Names renders the set as short English day names ("Mon, Wed").
func (w Weekdays) Names() string {
	parts := make([]string, len(w))
	for i, d := range w {
		parts[i] = d.String()[:3]
	}
	return strings.Join(parts, ", ")
}
