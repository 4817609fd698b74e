package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestTypingWithinWindowRunsOneSearch(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := seeded()
	d := NewDebouncer(NewAggregator(fake, zerolog.Nop()), DefaultDelay, zerolog.Nop())
	defer d.Close()
	d.SetSession(testSess)

	d.Input("ac")
	time.Sleep(50 * time.Millisecond)
	d.Input("acm")

	assert.Eventually(t, func() bool {
		st := d.State()
		return !st.Searching && st.Results.Query == "acm"
	}, 2*time.Second, 10*time.Millisecond)

	calls := fake.Calls()
	require.Len(t, calls, len(sources), "exactly one fan-out")
	for _, c := range calls {
		require.NotEmpty(t, c.Query.Any)
		assert.Equal(t, "acm", c.Query.Any[0].Value)
	}
	assert.Equal(t, "acm", d.State().Input)
}

func TestShortInputClearsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := seeded()
	d := NewDebouncer(NewAggregator(fake, zerolog.Nop()), 10*time.Millisecond, zerolog.Nop())
	defer d.Close()
	d.SetSession(testSess)

	d.Input("acme")
	assert.Eventually(t, func() bool { return !d.State().Results.Empty() }, time.Second, 5*time.Millisecond)
	before := len(fake.Calls())

	d.Input("a")
	st := d.State()
	assert.False(t, st.Searching)
	assert.True(t, st.Results.Empty())
	assert.Equal(t, "a", st.Input)

	time.Sleep(40 * time.Millisecond)
	assert.Len(t, fake.Calls(), before, "no gateway calls for a one-character query")
}

type gatedSearcher struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func (g *gatedSearcher) Search(ctx context.Context, _ *session.Session, q string) Results {
	g.mu.Lock()
	g.started = append(g.started, q)
	g.mu.Unlock()
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return Results{Query: q, Items: []Item{{Type: TypeLead, Title: q}}}
}

func (g *gatedSearcher) startedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.started)
}

func TestStaleResultsAreDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := &gatedSearcher{release: make(chan struct{})}
	d := NewDebouncer(s, 5*time.Millisecond, zerolog.Nop())
	defer d.Close()
	d.SetSession(testSess)

	var published []State
	var mu sync.Mutex
	cancel := d.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, st)
	})
	defer cancel()

	d.Input("globex")
	assert.Eventually(t, func() bool { return s.startedCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, d.State().Searching)

	// a newer input cancels the in-flight run; its results never land
	d.Input("acme")
	assert.Eventually(t, func() bool { return s.startedCount() == 2 }, time.Second, time.Millisecond)
	close(s.release)

	assert.Eventually(t, func() bool {
		st := d.State()
		return !st.Searching && st.Results.Query == "acme"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, st := range published {
		assert.NotEqual(t, "globex", st.Results.Query)
	}
}

func TestSignedOutInputDoesNotSearch(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := seeded()
	d := NewDebouncer(NewAggregator(fake, zerolog.Nop()), 5*time.Millisecond, zerolog.Nop())
	defer d.Close()

	d.Input("acme")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, fake.Calls())
	assert.True(t, d.State().Results.Empty())
}

func TestCloseStopsPendingTimer(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := seeded()
	d := NewDebouncer(NewAggregator(fake, zerolog.Nop()), 20*time.Millisecond, zerolog.Nop())
	d.SetSession(testSess)
	d.Input("acme")
	d.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fake.Calls())

	d.Input("globex")
	assert.Equal(t, "acme", d.State().Input, "closed debouncer ignores input")
}
