package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/search"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGateway struct {
	gateway.Gateway

	mu      sync.Mutex
	selects []gateway.Query
}

func (r *recordingGateway) Select(ctx context.Context, sess *session.Session, table string, q gateway.Query) ([]gateway.Row, error) {
	r.mu.Lock()
	r.selects = append(r.selects, q)
	r.mu.Unlock()
	return r.Gateway.Select(ctx, sess, table, q)
}

func TestSearchFiltersLocallyWhenColumnsAreMissing(t *testing.T) {
	ctx := context.Background()
	g := New(driftDB(t, `
CREATE TABLE suppliers (id TEXT PRIMARY KEY, title TEXT);
CREATE TABLE activities (id TEXT PRIMARY KEY, title TEXT);
`))
	for _, r := range []gateway.Row{{"id": "s1", "title": "Globex"}, {"id": "s2", "title": "Initech"}} {
		_, err := g.Insert(ctx, nil, gateway.TableSuppliers, r)
		require.NoError(t, err)
	}
	for _, r := range []gateway.Row{{"id": "a1", "title": "Sample delivery"}, {"id": "a2", "title": "Call ACME"}} {
		_, err := g.Insert(ctx, nil, gateway.TableActivities, r)
		require.NoError(t, err)
	}

	res := search.NewAggregator(g, zerolog.Nop()).Search(ctx, nil, "am")
	require.Len(t, res.Items, 1, "suppliers without a name column match nothing")
	assert.Equal(t, search.TypeActivity, res.Items[0].Type)
	assert.Equal(t, "a1", res.Items[0].ID)
	assert.Equal(t, "Sample delivery", res.Items[0].Title)
}

func TestRefreshFallsBackWhenReminderColumnsAreMissing(t *testing.T) {
	ctx := context.Background()
	g := &recordingGateway{Gateway: New(driftDB(t, `
CREATE TABLE activities (id TEXT PRIMARY KEY, title TEXT, reminder_date TEXT);
`))}
	today := reminder.Today(time.Now(), time.Local)
	_, err := g.Insert(ctx, nil, gateway.TableActivities, gateway.Row{"id": "a1", "title": "Call ACME", "reminder_date": today})
	require.NoError(t, err)

	agg := reminder.NewAggregator(g, reminder.Config{}, zerolog.Nop())
	sum, err := agg.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Entries, "rows without reminder_enabled are not reminders")
	assert.Equal(t, today, sum.Today)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.selects, 2)
	assert.NotEmpty(t, g.selects[0].Filters)
	assert.Empty(t, g.selects[1].Filters, "retried without filters")
}
