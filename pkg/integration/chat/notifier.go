package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/rs/zerolog"
)

// Sender delivers a message to the configured chat.
type Sender interface {
	Send(text string) error
}

// NotificationLog remembers which reminders were pushed to which channel.
// db.Repository implements it.
type NotificationLog interface {
	MarkNotified(activityID, reminderDate, channel string) (bool, error)
	ClearNotified(activityID, reminderDate, channel string) error
}

// Notifier pushes a message when the reminder gate opens. Each activity is
// announced once per reminder date and channel.
type Notifier struct {
	repo    NotificationLog
	channel string
	sender  Sender
	log     zerolog.Logger

	mu          sync.Mutex
	pending     *reminder.Summary
	wake        chan struct{}
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewNotifier creates a Notifier for channel, e.g. "telegram".
func NewNotifier(repo NotificationLog, channel string, sender Sender, log zerolog.Logger) *Notifier {
	return &Notifier{
		repo:    repo,
		channel: channel,
		sender:  sender,
		log:     log.With().Str("component", "notifier").Str("channel", channel).Logger(),
		wake:    make(chan struct{}, 1),
	}
}

// Notify announces the urgent entries of sum not yet sent on this channel.
// It does nothing unless the gate is open. Entries are unmarked again when
// delivery fails.
func (n *Notifier) Notify(sum reminder.Summary) (int, error) {
	if !sum.Gate.Open {
		return 0, nil
	}
	var fresh []reminder.Entry
	for _, e := range sum.Urgent {
		ok, err := n.repo.MarkNotified(e.ID, e.Date, n.channel)
		if err != nil {
			n.unmark(fresh)
			return 0, err
		}
		if ok {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := n.sender.Send(FormatGate(fresh)); err != nil {
		n.unmark(fresh)
		return 0, fmt.Errorf("failed to send reminder notification: %w", err)
	}
	return len(fresh), nil
}

// unmark forgets entries that were marked but never delivered.
func (n *Notifier) unmark(entries []reminder.Entry) {
	for _, e := range entries {
		if err := n.repo.ClearNotified(e.ID, e.Date, n.channel); err != nil {
			n.log.Error().Err(err).Str("activity", e.ID).Msg("failed to clear notification")
		}
	}
}

// FormatGate renders the push message for newly urgent entries.
func FormatGate(entries []reminder.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d reminder(s) due:", len(entries))
	writeEntries(&sb, entries)
	return sb.String()
}

// Start notifies on every summary published by agg. Deliveries run on a
// separate goroutine so a slow chat never holds up a refresh.
func (n *Notifier) Start(agg *reminder.Aggregator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	n.unsubscribe = agg.Subscribe(n.onSummary)
	go n.run(ctx, n.done)
}

// Stop ends delivery and waits for an in-flight send.
func (n *Notifier) Stop() {
	n.mu.Lock()
	unsubscribe, cancel, done := n.unsubscribe, n.cancel, n.done
	n.unsubscribe, n.cancel, n.done = nil, nil, nil
	n.mu.Unlock()
	if done == nil {
		return
	}
	unsubscribe()
	cancel()
	<-done
}

func (n *Notifier) onSummary(sum reminder.Summary) {
	if !sum.Gate.Open {
		return
	}
	n.mu.Lock()
	n.pending = &sum
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.wake:
			n.mu.Lock()
			sum := n.pending
			n.pending = nil
			n.mu.Unlock()
			if sum == nil {
				continue
			}
			if sent, err := n.Notify(*sum); err != nil {
				n.log.Warn().Err(err).Msg("reminder notification failed")
			} else if sent > 0 {
				n.log.Info().Int("entries", sent).Msg("reminder notification sent")
			}
		}
	}
}
