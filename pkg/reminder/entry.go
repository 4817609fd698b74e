package reminder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
)

// Status is the urgency bucket of a reminder.
type Status int

const (
	StatusOverdue Status = iota
	StatusDueToday
	StatusDueSoon
	StatusDueLater
)

func (s Status) String() string {
	switch s {
	case StatusOverdue:
		return "overdue"
	case StatusDueToday:
		return "due_today"
	case StatusDueSoon:
		return "due_soon"
	default:
		return "due_later"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusOverdue, StatusDueToday, StatusDueSoon, StatusDueLater} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown reminder status %q", b)
}

// Urgent reports whether s is overdue or due today.
func (s Status) Urgent() bool {
	return s == StatusOverdue || s == StatusDueToday
}

func (s Status) rank() int {
	switch {
	case s.Urgent():
		return 0
	case s == StatusDueSoon:
		return 1
	default:
		return 2
	}
}

// Classify buckets date relative to today. soonEnd is the last day counted as due soon.
// Dates are compared as YYYY-MM-DD strings.
func Classify(date, today, soonEnd string) Status {
	switch {
	case date < today:
		return StatusOverdue
	case date == today:
		return StatusDueToday
	case date <= soonEnd:
		return StatusDueSoon
	default:
		return StatusDueLater
	}
}

const (
	untitledActivity = "Untitled activity"
	defaultTime      = "00:00"
)

// Entry is one activity needing attention.
type Entry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	LeadName string `json:"lead_name,omitempty"`
	Date     string `json:"reminder_date"`
	Time     string `json:"reminder_time,omitempty"`
	Status   Status `json:"status"`
}

func (e Entry) Overdue() bool  { return e.Status == StatusOverdue }
func (e Entry) DueToday() bool { return e.Status == StatusDueToday }
func (e Entry) DueSoon() bool  { return e.Status == StatusDueSoon }
func (e Entry) DueLater() bool { return e.Status == StatusDueLater }

// sortTime is the key used to order entries within a bucket.
func (e Entry) sortTime() string {
	if e.Time == "" {
		return defaultTime
	}
	return e.Time
}

// window is the date range an evaluation runs against.
type window struct {
	today   string
	soonEnd string
	end     string
}

// normalize turns a row into an entry, or reports false when the row does not need attention.
func normalize(row gateway.Row, w window) (Entry, bool) {
	id := row.ID()
	if id == "" {
		return Entry{}, false
	}
	if !row.Bool("reminder_enabled") || row.Bool("completed") {
		return Entry{}, false
	}
	date := row.String("reminder_date")
	if len(date) > len(DateLayout) {
		// timestamps stored in the date column
		date = date[:len(DateLayout)]
	}
	if date == "" || date > w.end {
		return Entry{}, false
	}
	title := row.String("title", "subject")
	if title == "" {
		title = untitledActivity
	}
	return Entry{
		ID:       id,
		Title:    title,
		LeadName: row.String("lead_name"),
		Date:     date,
		Time:     strings.TrimSpace(row.String("reminder_time")),
		Status:   Classify(date, w.today, w.soonEnd),
	}, true
}

// sortEntries orders urgent entries first, then due soon, then due later; by time within a
// bucket and by fetch order on ties.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Status.rank(), entries[j].Status.rank()
		if ri != rj {
			return ri < rj
		}
		return entries[i].sortTime() < entries[j].sortTime()
	})
}
