// Package calendar mirrors reminder entries into a Google Calendar. The mirror
// is push-only: events are created and updated, never read back or removed.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/db"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/rs/zerolog"
)

// EventDuration is the length of a mirrored reminder event.
const EventDuration = 30 * time.Minute

// Syncer pushes reminder entries to a calendar after each refresh.
type Syncer struct {
	service     CalendarAPI
	repo        *db.Repository
	loc         *time.Location
	defaultTime string
	log         zerolog.Logger

	mu            sync.Mutex
	pending       []reminder.Entry
	lastRefreshed time.Time
	wake          chan struct{}
	unsubscribe   func()
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewSyncer creates a calendar syncer. defaultTime (HH:MM) is used for
// reminders without a time of day.
func NewSyncer(service CalendarAPI, repo *db.Repository, loc *time.Location, defaultTime string, log zerolog.Logger) *Syncer {
	if loc == nil {
		loc = time.Local
	}
	if defaultTime == "" {
		defaultTime = "09:00"
	}
	return &Syncer{
		service:     service,
		repo:        repo,
		loc:         loc,
		defaultTime: defaultTime,
		log:         log.With().Str("component", "calendar").Logger(),
		wake:        make(chan struct{}, 1),
	}
}

// Start mirrors the entries of every refresh published by agg. Refreshes
// arriving while a push runs are coalesced into the next one.
func (s *Syncer) Start(agg *reminder.Aggregator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.unsubscribe = agg.Subscribe(s.onSummary)
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight push to return.
func (s *Syncer) Stop() {
	s.mu.Lock()
	unsubscribe, cancel, done := s.unsubscribe, s.cancel, s.done
	s.unsubscribe, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if done == nil {
		return
	}
	unsubscribe()
	cancel()
	<-done
}

func (s *Syncer) onSummary(sum reminder.Summary) {
	s.mu.Lock()
	if sum.RefreshedAt.IsZero() || sum.RefreshedAt.Equal(s.lastRefreshed) {
		s.mu.Unlock()
		return
	}
	s.lastRefreshed = sum.RefreshedAt
	s.pending = sum.Entries
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.mu.Lock()
			entries := s.pending
			s.pending = nil
			s.mu.Unlock()
			if n, err := s.Push(ctx, entries); err != nil {
				s.log.Warn().Err(err).Int("pushed", n).Msg("calendar push incomplete")
			} else if n > 0 {
				s.log.Info().Int("pushed", n).Msg("calendar updated")
			}
		}
	}
}

// Push creates or updates one event per entry and returns how many events
// changed. Entries whose event is already current are skipped.
func (s *Syncer) Push(ctx context.Context, entries []reminder.Entry) (int, error) {
	var errs []error
	changed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		evt, err := s.eventFor(entry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := buildSyncKey(evt)

		rec, err := s.repo.GetCalendarSync(entry.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch {
		case rec == nil:
			eventID, err := s.service.CreateEvent(ctx, evt)
			if err != nil {
				errs = append(errs, fmt.Errorf("create event for %s: %w", entry.ID, err))
				continue
			}
			if err := s.repo.InsertCalendarSync(entry.ID, eventID, key); err != nil {
				errs = append(errs, err)
				continue
			}
		case rec.SyncKey != key:
			if err := s.service.UpdateEvent(ctx, rec.EventID, evt); err != nil {
				errs = append(errs, fmt.Errorf("update event for %s: %w", entry.ID, err))
				continue
			}
			if err := s.repo.UpdateCalendarSync(entry.ID, key); err != nil {
				errs = append(errs, err)
				continue
			}
		default:
			continue
		}
		changed++
	}
	return changed, errors.Join(errs...)
}

func (s *Syncer) eventFor(entry reminder.Entry) (Event, error) {
	day, err := time.ParseInLocation(reminder.DateLayout, entry.Date, s.loc)
	if err != nil {
		return Event{}, fmt.Errorf("invalid reminder date for %s: %w", entry.ID, err)
	}
	clock, ok := parseClock(entry.Time)
	if !ok {
		if entry.Time != "" {
			s.log.Debug().Str("activity", entry.ID).Str("time", entry.Time).Msg("unreadable reminder time, using default")
		}
		if clock, ok = parseClock(s.defaultTime); !ok {
			return Event{}, fmt.Errorf("invalid default reminder time %q", s.defaultTime)
		}
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, s.loc)
	summary := entry.Title
	if entry.LeadName != "" {
		summary = fmt.Sprintf("%s (%s)", entry.Title, entry.LeadName)
	}
	return Event{
		Summary:     summary,
		Description: "CRM reminder " + entry.ID,
		StartTime:   start,
		EndTime:     start.Add(EventDuration),
	}, nil
}

// clockLayouts are the time-of-day spellings accepted in reminder_time.
var clockLayouts = []string{"15:04", "15:04:05", "15.04", "3:04pm", "3:04 pm", "3pm", "3 pm"}

// parseClock reads a free-text time of day such as "9:00", "09:30:00" or "9am".
func parseClock(text string) (time.Time, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func buildSyncKey(evt Event) string {
	return fmt.Sprintf("%s|%s|%s",
		evt.Summary,
		evt.StartTime.Format(time.RFC3339),
		evt.EndTime.Format(time.RFC3339))
}
