package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/gateway/gatewaytest"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow  = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	testSess = &session.Session{UserID: "u1", Email: "olga@example.com", Role: session.RoleMember}
)

func day(n int) string {
	return mustAddDays("2026-10-19", n)
}

func activity(id string, date, tm string) gateway.Row {
	return gateway.Row{
		"id":               id,
		"title":            "Activity " + id,
		"reminder_enabled": true,
		"completed":        false,
		"reminder_date":    date,
		"reminder_time":    tm,
	}
}

func newAggregator(fake *gatewaytest.Fake, cfg Config) *Aggregator {
	cfg.Location = time.UTC
	a := NewAggregator(fake, cfg, zerolog.Nop())
	a.SetClock(func() time.Time { return testNow })
	return a
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestRefreshExcludesDisabledAndCompleted(t *testing.T) {
	disabled := activity("disabled", day(0), "")
	disabled["reminder_enabled"] = false
	completed := activity("completed", day(-1), "")
	completed["completed"] = true
	noDate := activity("nodate", "", "")
	fake := gatewaytest.New().Seed(gateway.TableActivities, disabled, completed, noDate, activity("kept", day(1), ""))

	sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(sum.Entries))
}

func TestRefreshExcludesDisabledEvenWhenFilteringLocally(t *testing.T) {
	disabled := activity("disabled", day(0), "")
	disabled["reminder_enabled"] = 0
	completed := activity("completed", day(0), "")
	completed["completed"] = "true"
	fake := gatewaytest.New().
		Seed(gateway.TableActivities, disabled, completed, activity("kept", day(0), "")).
		DropColumn(gateway.TableActivities, "reminder_enabled")

	sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, ids(sum.Entries))
}

func TestClassificationOfToday(t *testing.T) {
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(0), "10:00"))

	sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	e := sum.Entries[0]
	assert.True(t, e.DueToday())
	assert.False(t, e.Overdue())
	assert.False(t, e.DueSoon())
	assert.True(t, sum.HasDueToday)
	assert.False(t, sum.HasOverdue)
	assert.Equal(t, "2026-10-19", sum.Today)
}

func TestWindowBoundary(t *testing.T) {
	rows := []gateway.Row{activity("soon", day(2), ""), activity("later", day(3), "")}

	t.Run("default lookahead drops day+3", func(t *testing.T) {
		fake := gatewaytest.New().Seed(gateway.TableActivities, rows...)
		sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
		require.NoError(t, err)
		assert.Equal(t, []string{"soon"}, ids(sum.Entries))
		assert.Empty(t, sum.Later)
	})

	t.Run("wider lookahead classifies day+3 as due later", func(t *testing.T) {
		fake := gatewaytest.New().Seed(gateway.TableActivities, rows...)
		sum, err := newAggregator(fake, Config{LookaheadDays: 7}).Refresh(context.Background(), testSess)
		require.NoError(t, err)
		assert.Equal(t, []string{"soon"}, ids(sum.Soon))
		require.Len(t, sum.Later, 1)
		assert.Equal(t, "later", sum.Later[0].ID)
		assert.True(t, sum.Later[0].DueLater())
		assert.False(t, sum.Later[0].DueSoon())
	})
}

func TestUrgentGroupSortedByTime(t *testing.T) {
	fake := gatewaytest.New().Seed(gateway.TableActivities,
		activity("1", day(-1), "09:00"),
		activity("2", day(0), "08:00"),
	)

	sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 2)
	assert.Equal(t, []string{"2", "1"}, ids(sum.Entries))
	assert.Equal(t, StatusDueToday, sum.Entries[0].Status)
	assert.Equal(t, StatusOverdue, sum.Entries[1].Status)
}

func TestSortOrderAcrossGroups(t *testing.T) {
	fake := gatewaytest.New().Seed(gateway.TableActivities,
		activity("soon-early", day(1), "07:00"),
		activity("later", day(5), "06:00"),
		activity("today-notime", day(0), ""),
		activity("overdue-late", day(-3), "17:30"),
		activity("today-tie-a", day(0), "12:00"),
		activity("today-tie-b", day(0), "12:00"),
	)

	sum, err := newAggregator(fake, Config{LookaheadDays: 7}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	assert.Equal(t, []string{"today-notime", "today-tie-a", "today-tie-b", "overdue-late", "soon-early", "later"}, ids(sum.Entries))
	assert.Len(t, sum.Urgent, 4)
	assert.Len(t, sum.Soon, 1)
	assert.Len(t, sum.Later, 1)
	assert.Equal(t, 5, sum.Attention())
}

func TestGateLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(-1), ""))
	a := newAggregator(fake, Config{})

	sum, err := a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.True(t, sum.Gate.Open)

	sum = a.DismissGate()
	assert.False(t, sum.Gate.Open)
	assert.True(t, sum.Gate.Dismissed)

	// a live dismissal suppresses reopening
	sum, err = a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.False(t, sum.Gate.Open)
	assert.True(t, sum.Gate.Dismissed)

	// urgent list empties: gate closes and dismissal clears
	_, err = fake.Update(ctx, testSess, gateway.TableActivities, []gateway.Filter{gateway.Eq("id", "1")}, gateway.Row{"completed": true})
	require.NoError(t, err)
	sum, err = a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.False(t, sum.Gate.Open)
	assert.False(t, sum.Gate.Dismissed)

	// urgent items reappear: gate opens again
	fake.Seed(gateway.TableActivities, activity("2", day(0), ""))
	sum, err = a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.True(t, sum.Gate.Open)
}

func TestBannerResetsOnEveryRefresh(t *testing.T) {
	ctx := context.Background()
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(1), ""))
	a := newAggregator(fake, Config{})

	sum, err := a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.True(t, sum.BannerVisible)
	assert.False(t, sum.Gate.Open, "due soon alone does not open the gate")

	sum = a.DismissBanner()
	assert.False(t, sum.BannerVisible)
	assert.True(t, sum.BannerDismissed)

	sum, err = a.Refresh(ctx, testSess)
	require.NoError(t, err)
	assert.False(t, sum.BannerDismissed)
	assert.True(t, sum.BannerVisible)
}

func TestMissingColumnFallsBackToLocalFilter(t *testing.T) {
	fake := gatewaytest.New().
		Seed(gateway.TableActivities, activity("1", day(0), ""), activity("far", day(30), "")).
		DropColumn(gateway.TableActivities, "reminder_date")

	sum, err := newAggregator(fake, Config{}).Refresh(context.Background(), testSess)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(sum.Entries))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].Query.Filters)
	assert.Empty(t, calls[1].Query.Filters)
}

func TestFailuresKeepPreviousState(t *testing.T) {
	ctx := context.Background()
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(0), ""))
	a := newAggregator(fake, Config{})

	_, err := a.Refresh(ctx, testSess)
	require.NoError(t, err)

	for name, failure := range map[string]error{
		"missing relation": gateway.MissingRelation(gateway.TableActivities),
		"other":            errors.New("connection reset"),
	} {
		t.Run(name, func(t *testing.T) {
			fake.Fail(gateway.TableActivities, failure)
			defer fake.Heal(gateway.TableActivities)

			sum, err := a.Refresh(ctx, testSess)
			assert.Error(t, err)
			assert.Equal(t, []string{"1"}, ids(sum.Entries))
			assert.True(t, sum.Gate.Open)
		})
	}
}

func TestMissingRelationFromTheStart(t *testing.T) {
	sum, err := newAggregator(gatewaytest.New(), Config{}).Refresh(context.Background(), testSess)
	require.Error(t, err)
	assert.Equal(t, gateway.KindMissingRelation, gateway.Classify(err, gateway.TableActivities))
	assert.Empty(t, sum.Entries)
	assert.False(t, sum.Gate.Open)
}

func TestCompleteAndSnooze(t *testing.T) {
	ctx := context.Background()
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(-1), ""), activity("2", day(0), ""))
	a := newAggregator(fake, Config{})

	sum, err := a.Complete(ctx, testSess, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(sum.Entries))

	sum, err = a.Snooze(ctx, testSess, "2", 2)
	require.NoError(t, err)
	require.Len(t, sum.Entries, 1)
	assert.Equal(t, day(2), sum.Entries[0].Date)
	assert.True(t, sum.Entries[0].DueSoon())
	assert.False(t, sum.Gate.Open)

	_, err = a.Snooze(ctx, testSess, "2", 0)
	assert.ErrorIs(t, err, ErrInvalidSnooze)

	fake.Fail(gateway.TableActivities, errors.New("permission denied"))
	_, err = a.Complete(ctx, testSess, "2")
	assert.ErrorContains(t, err, "permission denied")
}

func TestSubscribersReceiveSummaries(t *testing.T) {
	fake := gatewaytest.New().Seed(gateway.TableActivities, activity("1", day(0), ""))
	a := newAggregator(fake, Config{})

	var got []Summary
	cancel := a.Subscribe(func(s Summary) { got = append(got, s) })

	_, err := a.Refresh(context.Background(), testSess)
	require.NoError(t, err)
	a.DismissGate()
	cancel()
	a.DismissBanner()

	require.Len(t, got, 2)
	assert.True(t, got[0].Gate.Open)
	assert.True(t, got[1].Gate.Dismissed)
}

func TestNormalizeFallbacks(t *testing.T) {
	w := window{today: "2026-10-19", soonEnd: "2026-10-21", end: "2026-10-21"}

	e, ok := normalize(gateway.Row{"id": float64(7), "subject": "Site visit", "reminder_enabled": int64(1), "reminder_date": "2026-10-19T08:00:00Z", "lead_name": "ACME"}, w)
	require.True(t, ok)
	assert.Equal(t, "7", e.ID)
	assert.Equal(t, "Site visit", e.Title)
	assert.Equal(t, "2026-10-19", e.Date)
	assert.Equal(t, "ACME", e.LeadName)

	e, ok = normalize(gateway.Row{"id": "8", "title": "  ", "reminder_enabled": true, "reminder_date": "2026-10-20"}, w)
	require.True(t, ok)
	assert.Equal(t, untitledActivity, e.Title)

	_, ok = normalize(gateway.Row{"title": "no id", "reminder_enabled": true, "reminder_date": "2026-10-20"}, w)
	assert.False(t, ok)
}
