package reminder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often reminders are re-read while a user is signed in.
const DefaultPollInterval = 60 * time.Second

// Refresher is the work a Poller schedules.
type Refresher interface {
	Refresh(ctx context.Context, sess *session.Session) (Summary, error)
}

// Poller refreshes reminders on an interval while a session is active.
type Poller struct {
	r        Refresher
	interval time.Duration
	log      zerolog.Logger

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	inFlight atomic.Bool
	skipped  atomic.Int64
}

// NewPoller creates a stopped Poller.
func NewPoller(r Refresher, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		r:        r,
		interval: interval,
		log:      log.With().Str("component", "reminder-poller").Logger(),
	}
}

// Start begins polling for sess, replacing any previous loop.
func (p *Poller) Start(sess *session.Session) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.stop()

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx, sess)
	p.log.Debug().Str("user", sess.UserID).Dur("interval", p.interval).Msg("reminder polling started")
}

// Stop cancels the loop and any in-flight refresh and waits for them to exit.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.stop()
}

func (p *Poller) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.log.Debug().Msg("reminder polling stopped")
}

// Running reports whether a loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Skipped is the number of ticks dropped because a refresh was still running.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

func (p *Poller) loop(ctx context.Context, sess *session.Session) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run one immediate tick on start.
	p.tick(ctx, sess)

	for {
		select {
		case <-ticker.C:
			p.tick(ctx, sess)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context, sess *session.Session) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		// errors are logged by the refresher and never stop the loop
		_, _ = p.r.Refresh(ctx, sess)
	}()
}
