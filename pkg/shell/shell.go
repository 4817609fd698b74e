// Package shell is the headless application shell. It owns the reminder
// poller, the search debouncer and the title indicator and ties their
// lifecycle to the signed-in session.
package shell

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/records"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/search"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/settings"
	"github.com/rs/zerolog"
)

// DefaultTitle is the base window title.
const DefaultTitle = "CRM Pilot"

// Config tunes the shell timers.
type Config struct {
	Title         string
	PollInterval  time.Duration
	DebounceDelay time.Duration
	BlinkInterval time.Duration
	Reminders     reminder.Config
}

// User is the signed-in identity shown by the shell.
type User struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	FullName string       `json:"full_name,omitempty"`
	Role     session.Role `json:"role"`
}

// State is everything a front-end needs to render the shell.
type State struct {
	Title     string           `json:"title"`
	User      *User            `json:"user"`
	Reminders reminder.Summary `json:"reminders"`
	Search    search.State     `json:"search"`
}

// Shell wires the aggregators to one gateway and one auth source.
type Shell struct {
	auth session.Auth
	log  zerolog.Logger

	reminders *reminder.Aggregator
	poller    *reminder.Poller
	searcher  *search.Aggregator
	debouncer *search.Debouncer
	title     *reminder.TitleIndicator
	settings  *settings.Workflow
	records   *records.Store

	mu      sync.Mutex
	sess    *session.Session
	closed  bool
	cancels []func()

	subsMu sync.Mutex
	nextID int
	subs   map[int]func(State)
}

// New builds a Shell. Nothing runs until Start.
func New(gw gateway.Gateway, auth session.Auth, cfg Config, log zerolog.Logger) *Shell {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	s := &Shell{
		auth: auth,
		log:  log.With().Str("component", "shell").Logger(),
		subs: make(map[int]func(State)),
	}
	s.reminders = reminder.NewAggregator(gw, cfg.Reminders, log)
	s.poller = reminder.NewPoller(s.reminders, cfg.PollInterval, log)
	s.searcher = search.NewAggregator(gw, log)
	s.debouncer = search.NewDebouncer(s.searcher, cfg.DebounceDelay, log)
	s.title = reminder.NewTitleIndicator(cfg.Title, cfg.BlinkInterval, func(string) { s.notify() })
	s.settings = settings.New(gw, auth, log)
	s.records = records.NewStore(gw, log)

	s.cancels = append(s.cancels,
		s.reminders.Subscribe(func(sum reminder.Summary) {
			// the title sink notifies listeners
			s.title.Update(sum)
		}),
		s.debouncer.Subscribe(func(search.State) { s.notify() }),
	)
	return s
}

// Start follows the auth source: the current session is applied now and every change afterwards.
func (s *Shell) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("shell is closed")
	}
	s.cancels = append(s.cancels, s.auth.Subscribe(s.onSession))
	s.mu.Unlock()

	cur, err := s.auth.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	s.onSession(cur)
	return nil
}

func (s *Shell) onSession(sess *session.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.sess
	s.sess = sess
	s.mu.Unlock()

	if !sess.Active() {
		if prev.Active() {
			s.log.Info().Str("user", prev.UserID).Msg("signed out, stopping reminders")
		}
		s.poller.Stop()
		s.reminders.Reset()
		s.debouncer.SetSession(nil)
		s.notify()
		return
	}

	s.debouncer.SetSession(sess)
	if !s.poller.Running() || !prev.Active() || prev.UserID != sess.UserID || prev.AccessToken != sess.AccessToken {
		if !prev.Active() || prev.UserID != sess.UserID {
			s.log.Info().Str("user", sess.UserID).Msg("signed in, starting reminders")
		}
		s.poller.Start(sess)
	}
	s.notify()
}

// Session returns the active session or nil.
func (s *Shell) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Reminders is the reminder aggregator.
func (s *Shell) Reminders() *reminder.Aggregator { return s.reminders }

// Search is the debounced search box.
func (s *Shell) Search() *search.Debouncer { return s.debouncer }

// Searcher runs searches directly, without debouncing.
func (s *Shell) Searcher() *search.Aggregator { return s.searcher }

// Settings is the profile and team workflow.
func (s *Shell) Settings() *settings.Workflow { return s.settings }

// Records holds the entity collections.
func (s *Shell) Records() *records.Store { return s.records }

// Auth is the session source.
func (s *Shell) Auth() session.Auth { return s.auth }

// Polling reports whether reminders are being polled.
func (s *Shell) Polling() bool { return s.poller.Running() }

// State returns the current view state.
func (s *Shell) State() State {
	st := State{
		Title:     s.title.Title(),
		Reminders: s.reminders.Snapshot(),
		Search:    s.debouncer.State(),
	}
	if sess := s.Session(); sess.Active() {
		st.User = &User{ID: sess.UserID, Email: sess.Email, FullName: sess.FullName, Role: sess.Role}
	}
	return st
}

// Subscribe registers fn for every state change.
func (s *Shell) Subscribe(fn func(State)) (cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Shell) notify() {
	s.subsMu.Lock()
	if len(s.subs) == 0 {
		s.subsMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	st := s.State()
	for _, fn := range fns {
		fn(st)
	}
}

// Close stops every timer and goroutine owned by the shell.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.poller.Stop()
	s.debouncer.Close()
	s.title.Close()
}
