package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet period after the last keystroke before a search is dispatched.
const DefaultDelay = 220 * time.Millisecond

// Searcher runs one search cycle.
type Searcher interface {
	Search(ctx context.Context, sess *session.Session, query string) Results
}

// State is the published search view.
type State struct {
	Input     string  `json:"input"`
	Searching bool    `json:"searching"`
	Results   Results `json:"results"`
}

// Debouncer turns keystrokes into at most one search per quiet period and
// publishes only the results of the latest input.
type Debouncer struct {
	s     Searcher
	delay time.Duration
	log   zerolog.Logger

	mu     sync.Mutex
	sess   *session.Session
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	state  State
	closed bool
	wg     sync.WaitGroup

	subsMu sync.Mutex
	nextID int
	subs   map[int]func(State)
}

// NewDebouncer creates a Debouncer dispatching to s.
func NewDebouncer(s Searcher, delay time.Duration, log zerolog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{
		s:     s,
		delay: delay,
		log:   log.With().Str("component", "search-debounce").Logger(),
		subs:  make(map[int]func(State)),
	}
}

// SetSession sets the identity used for searches. A nil session clears the state.
func (d *Debouncer) SetSession(sess *session.Session) {
	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()
	if !sess.Active() {
		d.Input("")
	}
}

// Input handles a change of the search box.
func (d *Debouncer) Input(text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.gen++
	gen := d.gen
	d.stopPendingLocked()
	d.state.Input = text

	query := strings.TrimSpace(text)
	if !Valid(query) || !d.sess.Active() {
		d.state.Searching = false
		d.state.Results = Results{}
		st := d.state
		d.mu.Unlock()
		d.notify(st)
		return
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen, query) })
	d.mu.Unlock()
}

// Clear empties the search box.
func (d *Debouncer) Clear() {
	d.Input("")
}

// stopPendingLocked drops the pending timer and cancels an in-flight search.
func (d *Debouncer) stopPendingLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) fire(gen uint64, query string) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.timer = nil
	d.cancel = cancel
	d.state.Searching = true
	sess := d.sess
	st := d.state
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()
	defer cancel()

	d.notify(st)
	res := d.s.Search(ctx, sess, query)

	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		d.log.Debug().Str("query", query).Msg("discarding stale search results")
		return
	}
	d.cancel = nil
	d.state.Searching = false
	d.state.Results = res
	st = d.state
	d.mu.Unlock()
	d.notify(st)
}

// State returns the current search view.
func (d *Debouncer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers fn for every state change.
func (d *Debouncer) Subscribe(fn func(State)) (cancel func()) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	return func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		delete(d.subs, id)
	}
}

func (d *Debouncer) notify(st State) {
	d.subsMu.Lock()
	fns := make([]func(State), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.subsMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

// Close stops the pending timer, cancels in-flight work and waits for it.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stopPendingLocked()
	d.mu.Unlock()
	d.wg.Wait()
}
