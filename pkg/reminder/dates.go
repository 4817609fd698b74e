package reminder

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format stored in reminder_date.
const DateLayout = "2006-01-02"

// Today returns the calendar date of now in loc (time.Local when nil).
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DateLayout)
}

// AddDays returns the calendar date n days after date.
func AddDays(date string, n int) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return d.AddDate(0, 0, n).Format(DateLayout), nil
}

func mustAddDays(date string, n int) string {
	out, err := AddDays(date, n)
	if err != nil {
		panic(err)
	}
	return out
}
