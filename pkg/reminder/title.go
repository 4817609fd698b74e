package reminder

import (
	"fmt"
	"sync"
	"time"
)

// DefaultBlinkInterval is the alternation period of the title while urgent reminders exist.
const DefaultBlinkInterval = 900 * time.Millisecond

// TitleIndicator derives the window title from reminder counts.
// While anything needs attention the title is prefixed with the count; while
// something is urgent it alternates between the prefixed and the plain title.
type TitleIndicator struct {
	base     string
	interval time.Duration
	sink     func(string)

	mu      sync.Mutex
	count   int
	urgent  bool
	plain   bool
	current string
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewTitleIndicator creates an indicator for base. sink receives every title change and may be nil.
func NewTitleIndicator(base string, interval time.Duration, sink func(string)) *TitleIndicator {
	if interval <= 0 {
		interval = DefaultBlinkInterval
	}
	if sink == nil {
		sink = func(string) {}
	}
	return &TitleIndicator{base: base, interval: interval, sink: sink, current: base}
}

// Title returns the current title.
func (t *TitleIndicator) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Blinking reports whether the blink loop is running.
func (t *TitleIndicator) Blinking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *TitleIndicator) prefixed() string {
	if t.count == 0 {
		return t.base
	}
	return fmt.Sprintf("(%d) %s", t.count, t.base)
}

// Update applies a new reminder summary.
func (t *TitleIndicator) Update(sum Summary) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.count = sum.Attention()
	t.urgent = len(sum.Urgent) > 0
	t.plain = false
	t.current = t.prefixed()
	title := t.current

	var stop, done chan struct{}
	switch {
	case t.urgent && t.stop == nil:
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.blink(t.stop, t.done)
	case !t.urgent && t.stop != nil:
		stop, done = t.stop, t.done
		t.stop, t.done = nil, nil
	}
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	t.sink(title)
}

func (t *TitleIndicator) blink(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			if t.stop != stop {
				t.mu.Unlock()
				return
			}
			t.plain = !t.plain
			if t.plain {
				t.current = t.base
			} else {
				t.current = t.prefixed()
			}
			title := t.current
			t.mu.Unlock()
			t.sink(title)
		case <-stop:
			return
		}
	}
}

// Close stops blinking and restores the base title.
func (t *TitleIndicator) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.count = 0
	t.current = t.base
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	t.sink(t.base)
}
