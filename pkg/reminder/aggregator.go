// Package reminder decides which activities need the user's attention and how urgently.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
)

const (
	DefaultLookaheadDays = 2
	DefaultSoonDays      = 2
)

// ErrInvalidSnooze is returned by Snooze for a non-positive number of days.
var ErrInvalidSnooze = errors.New("snooze must be at least one day")

// Config tunes the evaluation window.
type Config struct {
	// LookaheadDays bounds the fetch: reminders dated after today+LookaheadDays are ignored.
	LookaheadDays int
	// SoonDays is the last day offset classified as due soon.
	SoonDays int
	// Location defines "today". time.Local when nil.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = DefaultLookaheadDays
	}
	if c.SoonDays <= 0 {
		c.SoonDays = DefaultSoonDays
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// GateState is the blocking reminder modal.
type GateState struct {
	Open      bool `json:"open"`
	Dismissed bool `json:"dismissed"`
}

// Summary is the published reminder view.
type Summary struct {
	Today           string    `json:"today"`
	Entries         []Entry   `json:"entries"`
	Urgent          []Entry   `json:"urgent"`
	Soon            []Entry   `json:"soon"`
	Later           []Entry   `json:"later"`
	HasOverdue      bool      `json:"has_overdue"`
	HasDueToday     bool      `json:"has_due_today"`
	Gate            GateState `json:"gate"`
	BannerDismissed bool      `json:"banner_dismissed"`
	BannerVisible   bool      `json:"banner_visible"`
	RefreshedAt     time.Time `json:"refreshed_at,omitempty"`
}

// Attention is the number of entries shown in the title prefix.
func (s Summary) Attention() int {
	return len(s.Urgent) + len(s.Soon)
}

// Aggregator keeps the current reminder state for one user.
type Aggregator struct {
	gw  gateway.Gateway
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu              sync.Mutex
	entries         []Entry
	today           string
	gate            GateState
	bannerDismissed bool
	refreshedAt     time.Time

	subsMu sync.Mutex
	nextID int
	subs   map[int]func(Summary)
}

// NewAggregator creates an Aggregator reading activities from gw.
func NewAggregator(gw gateway.Gateway, cfg Config, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		gw:   gw,
		cfg:  cfg.withDefaults(),
		log:  log.With().Str("component", "reminders").Logger(),
		now:  time.Now,
		subs: make(map[int]func(Summary)),
	}
}

// SetClock replaces the time source.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Aggregator) window() window {
	today := Today(a.now(), a.cfg.Location)
	return window{
		today:   today,
		soonEnd: mustAddDays(today, a.cfg.SoonDays),
		end:     mustAddDays(today, a.cfg.LookaheadDays),
	}
}

// Refresh re-reads activities and publishes a new state. On failure the
// previous state is kept; the error is logged and returned for callers that
// want it, background callers ignore it.
func (a *Aggregator) Refresh(ctx context.Context, sess *session.Session) (Summary, error) {
	w := a.window()
	rows, err := a.fetch(ctx, sess, w)
	if err != nil {
		a.log.Warn().Err(err).Str("kind", gateway.Classify(err, gateway.TableActivities).String()).Msg("reminder refresh failed, keeping previous state")
		return a.Snapshot(), err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if e, ok := normalize(row, w); ok {
			entries = append(entries, e)
		}
	}
	sortEntries(entries)

	a.mu.Lock()
	a.entries = entries
	a.today = w.today
	a.refreshedAt = a.now()
	a.bannerDismissed = false
	if countUrgent(entries) == 0 {
		a.gate = GateState{}
	} else if !a.gate.Dismissed {
		a.gate.Open = true
	}
	sum := a.summaryLocked()
	a.mu.Unlock()

	a.log.Debug().Int("entries", len(entries)).Int("urgent", len(sum.Urgent)).Bool("gate", sum.Gate.Open).Msg("reminders refreshed")
	a.notify(sum)
	return sum, nil
}

func (a *Aggregator) fetch(ctx context.Context, sess *session.Session, w window) ([]gateway.Row, error) {
	rows, err := a.gw.Select(ctx, sess, gateway.TableActivities, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("reminder_enabled", true),
			gateway.Lte("reminder_date", w.end),
		},
	})
	if err == nil {
		return rows, nil
	}
	if gateway.Classify(err, gateway.TableActivities) != gateway.KindMissingColumn {
		return nil, err
	}
	a.log.Debug().Err(err).Msg("reminder columns missing, filtering locally")
	return a.gw.Select(ctx, sess, gateway.TableActivities, gateway.Query{})
}

func countUrgent(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Status.Urgent() {
			n++
		}
	}
	return n
}

// DismissGate closes the gate until the urgent list next empties.
func (a *Aggregator) DismissGate() Summary {
	a.mu.Lock()
	a.gate = GateState{Open: false, Dismissed: true}
	sum := a.summaryLocked()
	a.mu.Unlock()
	a.notify(sum)
	return sum
}

// DismissBanner hides the banner until the next refresh.
func (a *Aggregator) DismissBanner() Summary {
	a.mu.Lock()
	a.bannerDismissed = true
	sum := a.summaryLocked()
	a.mu.Unlock()
	a.notify(sum)
	return sum
}

// Reset drops all state, used when the user signs out.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = nil
	a.today = ""
	a.gate = GateState{}
	a.bannerDismissed = false
	a.refreshedAt = time.Time{}
	sum := a.summaryLocked()
	a.mu.Unlock()
	a.notify(sum)
}

// Complete marks the activity done and refreshes.
func (a *Aggregator) Complete(ctx context.Context, sess *session.Session, id string) (Summary, error) {
	if _, err := a.gw.Update(ctx, sess, gateway.TableActivities, []gateway.Filter{gateway.Eq("id", id)}, gateway.Row{"completed": true}); err != nil {
		return a.Snapshot(), fmt.Errorf("complete activity %s: %w", id, err)
	}
	sum, _ := a.Refresh(ctx, sess)
	return sum, nil
}

// Snooze moves the reminder to today+days and refreshes.
func (a *Aggregator) Snooze(ctx context.Context, sess *session.Session, id string, days int) (Summary, error) {
	if days < 1 {
		return a.Snapshot(), ErrInvalidSnooze
	}
	date := mustAddDays(Today(a.now(), a.cfg.Location), days)
	if _, err := a.gw.Update(ctx, sess, gateway.TableActivities, []gateway.Filter{gateway.Eq("id", id)}, gateway.Row{"reminder_date": date}); err != nil {
		return a.Snapshot(), fmt.Errorf("snooze activity %s: %w", id, err)
	}
	sum, _ := a.Refresh(ctx, sess)
	return sum, nil
}

// Snapshot returns the current state.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

func (a *Aggregator) summaryLocked() Summary {
	sum := Summary{
		Today:           a.today,
		Entries:         append([]Entry(nil), a.entries...),
		Gate:            a.gate,
		BannerDismissed: a.bannerDismissed,
		RefreshedAt:     a.refreshedAt,
	}
	for _, e := range a.entries {
		switch e.Status {
		case StatusOverdue:
			sum.HasOverdue = true
			sum.Urgent = append(sum.Urgent, e)
		case StatusDueToday:
			sum.HasDueToday = true
			sum.Urgent = append(sum.Urgent, e)
		case StatusDueSoon:
			sum.Soon = append(sum.Soon, e)
		default:
			sum.Later = append(sum.Later, e)
		}
	}
	sum.BannerVisible = sum.Attention() > 0 && !sum.BannerDismissed
	return sum
}

// Subscribe registers fn for every published Summary.
func (a *Aggregator) Subscribe(fn func(Summary)) (cancel func()) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	return func() {
		a.subsMu.Lock()
		defer a.subsMu.Unlock()
		delete(a.subs, id)
	}
}

func (a *Aggregator) notify(sum Summary) {
	a.subsMu.Lock()
	fns := make([]func(Summary), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subsMu.Unlock()
	for _, fn := range fns {
		fn(sum)
	}
}
