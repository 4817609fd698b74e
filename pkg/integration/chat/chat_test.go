package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/db"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/gateway/gatewaytest"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/search"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/shell"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		input  string
		want   Command
		wantOK bool
	}{
		{"reminders", "/", "/reminders", Command{Name: CommandReminders}, true},
		{"bot mention", "/", "/reminders@crm_pilot_bot", Command{Name: CommandReminders}, true},
		{"search with text", "/", "/search  ACME corp ", Command{Name: CommandSearch, Arg: "ACME corp"}, true},
		{"done with id", "!", "!done a1", Command{Name: CommandDone, Arg: "a1"}, true},
		{"case folded", "!", "!Search acme", Command{Name: CommandSearch, Arg: "acme"}, true},
		{"wrong prefix", "!", "/reminders", Command{}, false},
		{"unknown", "/", "/inbox hello", Command{}, false},
		{"no space", "/", "/searchacme", Command{}, false},
		{"plain text", "/", "hello", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.prefix, tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSummary(t *testing.T) {
	assert.Equal(t, "No reminders need attention.", FormatSummary(reminder.Summary{}))

	sum := reminder.Summary{
		Urgent: []reminder.Entry{
			{ID: "a1", Title: "Call", LeadName: "ACME", Date: "2026-10-18", Status: reminder.StatusOverdue},
			{ID: "a2", Title: "Quote", Date: "2026-10-19", Time: "09:00", Status: reminder.StatusDueToday},
		},
		Soon: []reminder.Entry{{ID: "a3", Title: "Visit", Date: "2026-10-21", Status: reminder.StatusDueSoon}},
	}
	assert.Equal(t, "3 reminder(s) need attention\n\n"+
		"Overdue and today:\n"+
		"- 2026-10-18 Call (ACME) [overdue] #a1\n"+
		"- 2026-10-19 09:00 Quote #a2\n\n"+
		"Coming up:\n"+
		"- 2026-10-21 Visit #a3", FormatSummary(sum))
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, `Nothing found for "zz".`, FormatResults(search.Results{Query: "zz"}))

	lead := search.Item{Type: search.TypeLead, Title: "ACME", Subtitle: "555", Action: search.Action{Kind: search.ActionNavigate, Path: "/leads?id=l1"}}
	doc := search.Item{Type: search.TypeDocument, Title: "Offer.pdf", Subtitle: "Open file", Action: search.Action{Kind: search.ActionExternal, URL: "https://files/offer.pdf"}}
	res := search.Results{
		Query: "ac",
		Items: []search.Item{lead, doc},
		Groups: []search.Group{
			{Type: search.TypeLead, Items: []search.Item{lead}},
			{Type: search.TypeDocument, Items: []search.Item{doc}},
		},
	}
	assert.Equal(t, "Results for \"ac\":\n\n"+
		"lead:\n- ACME - 555 /leads?id=l1\n\n"+
		"document:\n- Offer.pdf - Open file https://files/offer.pdf", FormatResults(res))
}

type stubAuth struct {
	session.Broadcaster
}

func (a *stubAuth) Current(context.Context) (*session.Session, error) { return a.Load(), nil }
func (a *stubAuth) SignIn(context.Context, string, string) (*session.Session, error) {
	return nil, session.ErrInvalidCredentials
}
func (a *stubAuth) SignUp(context.Context, session.SignUpRequest) (*session.User, error) {
	return nil, nil
}
func (a *stubAuth) UpdateUser(context.Context, *session.Session, session.UserUpdate) (*session.User, error) {
	return nil, nil
}
func (a *stubAuth) SignOut(context.Context, *session.Session) error {
	a.Publish(nil)
	return nil
}

func TestResponder(t *testing.T) {
	defer goleak.VerifyNone(t)

	today := reminder.Today(time.Now(), time.Local)
	fake := gatewaytest.New().
		Seed(gateway.TableActivities,
			gateway.Row{"id": "a1", "title": "Call ACME", "reminder_enabled": true, "reminder_date": today},
		).
		Seed(gateway.TableLeads, gateway.Row{"id": "l1", "name": "ACME"})
	auth := &stubAuth{}
	sh := shell.New(fake, auth, shell.Config{PollInterval: time.Hour, DebounceDelay: time.Millisecond, BlinkInterval: time.Hour}, zerolog.Nop())
	defer sh.Close()
	require.NoError(t, sh.Start(context.Background()))
	r := &Responder{Shell: sh, Prefix: "/"}
	ctx := context.Background()

	assert.Equal(t, "Not signed in.", r.Reply(ctx, Command{Name: CommandReminders}))
	assert.Contains(t, r.Reply(ctx, Command{Name: CommandHelp}), "/done <id>")

	auth.Publish(&session.Session{UserID: "u1", AccessToken: "t"})

	assert.Contains(t, r.Reply(ctx, Command{Name: CommandReminders}), "Call ACME")
	assert.Equal(t, "Type at least 2 characters to search.", r.Reply(ctx, Command{Name: CommandSearch, Arg: "a"}))
	assert.Contains(t, r.Reply(ctx, Command{Name: CommandSearch, Arg: "acme"}), "/leads?id=l1")
	assert.Equal(t, "Usage: /done <id>", r.Reply(ctx, Command{Name: CommandDone}))
	assert.Equal(t, "Marked as done.", r.Reply(ctx, Command{Name: CommandDone, Arg: "a1"}))
	assert.Equal(t, "No reminders need attention.", r.Reply(ctx, Command{Name: CommandReminders}))
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *recordingSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func setupRepo(t *testing.T) *db.Repository {
	t.Helper()
	database, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitStateSchema())
	return db.NewRepository(database)
}

func TestNotifyOncePerEntryAndDate(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(setupRepo(t), "telegram", sender, zerolog.Nop())

	call := reminder.Entry{ID: "a1", Title: "Call", Date: "2026-10-19", Status: reminder.StatusDueToday}
	sum := reminder.Summary{Urgent: []reminder.Entry{call}, Gate: reminder.GateState{Open: true}}

	sent, err := n.Notify(reminder.Summary{Urgent: sum.Urgent})
	require.NoError(t, err)
	assert.Zero(t, sent, "closed gate")

	sent, err = n.Notify(sum)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = n.Notify(sum)
	require.NoError(t, err)
	assert.Zero(t, sent)

	quote := reminder.Entry{ID: "a2", Title: "Quote", Date: "2026-10-19", Status: reminder.StatusDueToday}
	sum.Urgent = append(sum.Urgent, quote)
	sent, err = n.Notify(sum)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1 reminder(s) due:\n- 2026-10-19 Call #a1", msgs[0])
	assert.Equal(t, "1 reminder(s) due:\n- 2026-10-19 Quote #a2", msgs[1])
}

func TestNotifyRetriesAfterFailedDelivery(t *testing.T) {
	sender := &recordingSender{err: errors.New("chat not found")}
	n := NewNotifier(setupRepo(t), "discord", sender, zerolog.Nop())
	sum := reminder.Summary{
		Urgent: []reminder.Entry{{ID: "a1", Title: "Call", Date: "2026-10-19"}},
		Gate:   reminder.GateState{Open: true},
	}

	_, err := n.Notify(sum)
	assert.ErrorContains(t, err, "chat not found")

	sender.err = nil
	sent, err := n.Notify(sum)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestNotifierFollowsAggregator(t *testing.T) {
	defer goleak.VerifyNone(t)

	today := reminder.Today(time.Now(), time.Local)
	fake := gatewaytest.New().Seed(gateway.TableActivities,
		gateway.Row{"id": "a1", "title": "Call", "reminder_enabled": true, "reminder_date": today},
	)
	agg := reminder.NewAggregator(fake, reminder.Config{}, zerolog.Nop())
	sender := &recordingSender{}
	n := NewNotifier(setupRepo(t), "telegram", sender, zerolog.Nop())
	n.Start(agg)

	sess := &session.Session{UserID: "u1"}
	_, err := agg.Refresh(context.Background(), sess)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)

	_, err = agg.Refresh(context.Background(), sess)
	require.NoError(t, err)
	n.Stop()
	n.Stop()
	assert.Len(t, sender.messages(), 1)
}

// flakyLog fails MarkNotified for one activity.
type flakyLog struct {
	*db.Repository
	failOn string
}

func (l *flakyLog) MarkNotified(activityID, reminderDate, channel string) (bool, error) {
	if activityID == l.failOn {
		return false, errors.New("database is locked")
	}
	return l.Repository.MarkNotified(activityID, reminderDate, channel)
}

func TestNotifyUnmarksWhenMarkingFails(t *testing.T) {
	sender := &recordingSender{}
	log := &flakyLog{Repository: setupRepo(t), failOn: "a2"}
	n := NewNotifier(log, "telegram", sender, zerolog.Nop())
	sum := reminder.Summary{
		Urgent: []reminder.Entry{
			{ID: "a1", Title: "Call", Date: "2026-10-19"},
			{ID: "a2", Title: "Quote", Date: "2026-10-19"},
		},
		Gate: reminder.GateState{Open: true},
	}

	_, err := n.Notify(sum)
	assert.ErrorContains(t, err, "database is locked")
	assert.Empty(t, sender.messages())

	log.failOn = ""
	sent, err := n.Notify(sum)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "the entry marked before the failure is sent too")
	require.Len(t, sender.messages(), 1)
	assert.Contains(t, sender.messages()[0], "#a1")
}

func TestNotifierStartedBeforeSignInSeesFirstRefresh(t *testing.T) {
	defer goleak.VerifyNone(t)

	today := reminder.Today(time.Now(), time.Local)
	fake := gatewaytest.New().Seed(gateway.TableActivities,
		gateway.Row{"id": "a1", "title": "Call", "reminder_enabled": true, "reminder_date": today},
	)
	auth := &stubAuth{}
	sh := shell.New(fake, auth, shell.Config{PollInterval: time.Hour, DebounceDelay: time.Millisecond, BlinkInterval: time.Hour}, zerolog.Nop())
	defer sh.Close()
	require.NoError(t, sh.Start(context.Background()))

	sender := &recordingSender{}
	n := NewNotifier(setupRepo(t), "telegram", sender, zerolog.Nop())
	n.Start(sh.Reminders())
	defer n.Stop()

	auth.Publish(&session.Session{UserID: "u1", AccessToken: "t"})
	assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
}
