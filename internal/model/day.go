package model

import "time"

// DayLayout is the calendar-day format used in storage keys.
const DayLayout = "2006-01-02"

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD day as midnight in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DayLayout, day, loc)
}

// DayAge counts whole calendar days from day to today. Both values are
// interpreted in loc so DST transitions do not shift the count.
func DayAge(day, today string, loc *time.Location) (int, error) {
	d, err := ParseDay(day, loc)
	if err != nil {
		return 0, err
	}
	t, err := ParseDay(today, loc)
	if err != nil {
		return 0, err
	}
	du := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	tu := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(tu.Sub(du).Hours() / 24), nil
}
