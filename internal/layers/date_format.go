package layers

import (
	"fmt"
	"time"
)

// DateFormat is the date string form a temporal tile service expects
type DateFormat string

const (
	DateISO     DateFormat = "YYYY-MM-DD"
	DateCompact DateFormat = "YYYYMMDD"
	DateSlashed DateFormat = "YYYY/MM/DD"
)

var dateLayouts = map[DateFormat]string{
	DateISO:     "2006-01-02",
	DateCompact: "20060102",
	DateSlashed: "2006/01/02",
}

// Valid reports whether the format is one of the supported forms
func (f DateFormat) Valid() bool {
	_, ok := dateLayouts[f]
	return ok
}

// Layout returns the Go time layout for the format
func (f DateFormat) Layout() string {
	return dateLayouts[f]
}

// Format renders t in the format
func (f DateFormat) Format(t time.Time) string {
	return t.Format(f.Layout())
}

// ParseDate accepts a date in any of the supported forms
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	for _, f := range []DateFormat{DateISO, DateCompact, DateSlashed} {
		if t, err := time.Parse(f.Layout(), s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q (expected YYYY-MM-DD, YYYYMMDD or YYYY/MM/DD)", s)
}

// Contains reports whether t falls inside the range; open ends always match
func (t TemporalRange) Contains(date time.Time) bool {
	if t.Start != "" {
		if start, err := ParseDate(t.Start); err == nil && date.Before(start) {
			return false
		}
	}
	if t.End != "" {
		if end, err := ParseDate(t.End); err == nil && date.After(end) {
			return false
		}
	}
	return true
}
