package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/gateway/gatewaytest"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSess = &session.Session{UserID: "u1", Email: "olga@example.com", Role: session.RoleMember}

func seeded() *gatewaytest.Fake {
	return gatewaytest.New().
		Seed(gateway.TableLeads,
			gateway.Row{"id": "l1", "name": "ACME Corp", "phone": "+48 600 100 200"},
			gateway.Row{"id": "l2", "name": "Globex"},
		).
		Seed(gateway.TableSuppliers, gateway.Row{"id": "s1", "name": "Acme Supplies"}).
		Seed(gateway.TableDocuments,
			gateway.Row{"id": "d1", "name": "acme offer.pdf", "file_url": "https://files.example.com/d1.pdf"},
			gateway.Row{"id": "d2", "name": "ACME contract"},
		).
		Seed(gateway.TableActivities,
			gateway.Row{"id": "a1", "title": "Call", "subject": "acme follow-up"},
			gateway.Row{"id": "a2", "title": "Visit ACME"},
		)
}

func types(items []Item) []Type {
	out := make([]Type, 0, len(items))
	for _, it := range items {
		out = append(out, it.Type)
	}
	return out
}

func TestSearchAcrossSources(t *testing.T) {
	res := NewAggregator(seeded(), zerolog.Nop()).Search(context.Background(), testSess, "  acme ")

	assert.Equal(t, "acme", res.Query)
	assert.Equal(t, []Type{TypeLead, TypeSupplier, TypeDocument, TypeDocument, TypeActivity, TypeActivity}, types(res.Items))

	lead := res.Items[0]
	assert.Equal(t, "ACME Corp", lead.Title)
	assert.Equal(t, "+48 600 100 200", lead.Subtitle)
	assert.Equal(t, Action{Kind: ActionNavigate, Path: "/leads?id=l1"}, lead.Action)
	assert.Equal(t, "lead-l1-ACME Corp", lead.Key)

	doc := res.Items[2]
	assert.Equal(t, "Open file", doc.Subtitle)
	assert.Equal(t, ActionExternal, doc.Action.Kind)
	assert.Equal(t, "https://files.example.com/d1.pdf", doc.Action.URL)
	assert.Equal(t, "noopener,noreferrer", doc.Action.Features)

	plainDoc := res.Items[3]
	assert.Empty(t, plainDoc.Subtitle)
	assert.Equal(t, "/documents?id=d2", plainDoc.Action.Path)

	require.Len(t, res.Groups, 4)
	assert.Equal(t, TypeDocument, res.Groups[2].Type)
	assert.Len(t, res.Groups[2].Items, 2)
}

func TestShortQueryMakesNoCalls(t *testing.T) {
	fake := seeded()
	res := NewAggregator(fake, zerolog.Nop()).Search(context.Background(), testSess, " a ")
	assert.True(t, res.Empty())
	assert.Empty(t, fake.Calls())
}

func TestMissingDocumentsRelationYieldsNoDocuments(t *testing.T) {
	fake := seeded()
	fake.Fail(gateway.TableDocuments, &gateway.Error{Message: `relation "public.documents" does not exist`})

	res := NewAggregator(fake, zerolog.Nop()).Search(context.Background(), testSess, "acme")
	assert.NotContains(t, types(res.Items), TypeDocument)
	assert.Contains(t, types(res.Items), TypeLead)
	assert.Equal(t, 1, fake.CallsTo("select", gateway.TableDocuments))
}

func TestOtherErrorsYieldEmptySource(t *testing.T) {
	fake := seeded()
	fake.Fail(gateway.TableLeads, errors.New("connection refused"))

	res := NewAggregator(fake, zerolog.Nop()).Search(context.Background(), testSess, "acme")
	assert.NotContains(t, types(res.Items), TypeLead)
	assert.Contains(t, types(res.Items), TypeSupplier)
}

func TestMissingColumnFiltersLocally(t *testing.T) {
	fake := gatewaytest.New().DropColumn(gateway.TableActivities, "subject")
	for i := 0; i < 8; i++ {
		fake.Seed(gateway.TableActivities, gateway.Row{"id": fmt.Sprintf("a%d", i), "title": fmt.Sprintf("ACME call %d", i)})
	}
	fake.Seed(gateway.TableActivities, gateway.Row{"id": "x", "title": "Globex"})

	res := NewAggregator(fake, zerolog.Nop()).Search(context.Background(), testSess, "acme")
	require.Len(t, res.Items, SourceLimit)
	for _, it := range res.Items {
		assert.Contains(t, it.Title, "ACME")
	}

	var activityCalls []gateway.Query
	for _, c := range fake.Calls() {
		if c.Table == gateway.TableActivities {
			activityCalls = append(activityCalls, c.Query)
		}
	}
	require.Len(t, activityCalls, 2)
	assert.Len(t, activityCalls[0].Any, 2)
	assert.Equal(t, SourceLimit, activityCalls[0].Limit)
	assert.Empty(t, activityCalls[1].Any)
	assert.Equal(t, FallbackLimit, activityCalls[1].Limit)
}

func TestMergeCapsAtTwelve(t *testing.T) {
	fake := gatewaytest.New()
	for _, table := range []string{gateway.TableLeads, gateway.TableSuppliers, gateway.TableDocuments} {
		for i := 0; i < 5; i++ {
			fake.Seed(table, gateway.Row{"id": fmt.Sprintf("%s-%d", table, i), "name": fmt.Sprintf("acme %d", i)})
		}
	}
	fake.Seed(gateway.TableActivities, gateway.Row{"id": "a1", "title": "acme"})

	res := NewAggregator(fake, zerolog.Nop()).Search(context.Background(), testSess, "acme")
	require.Len(t, res.Items, MaxResults)
	assert.NotContains(t, types(res.Items), TypeActivity)
	require.Len(t, res.Groups, 3)
	assert.Len(t, res.Groups[0].Items, 5)
	assert.Len(t, res.Groups[1].Items, 5)
	assert.Len(t, res.Groups[2].Items, 2)
}

func TestTitleFallbacksAndKeys(t *testing.T) {
	assert.Equal(t, "Unnamed lead", leadItem(gateway.Row{"id": "1"}).Title)
	assert.Equal(t, "Supplier", supplierItem(gateway.Row{"id": "1"}).Title)
	assert.Equal(t, "Document", documentItem(gateway.Row{"id": "1"}).Title)
	assert.Equal(t, "Activity", activityItem(gateway.Row{"id": "1", "title": ""}).Title)
	assert.Equal(t, "Follow-up", activityItem(gateway.Row{"id": "1", "subject": "Follow-up"}).Title)

	a := leadItem(gateway.Row{"id": "1", "name": "Same"})
	b := leadItem(gateway.Row{"id": "2", "name": "Same"})
	assert.NotEqual(t, a.Key, b.Key)

	doc := documentItem(gateway.Row{"id": "3", "public_url": "https://cdn.example.com/x"})
	assert.Equal(t, "https://cdn.example.com/x", doc.Action.URL)
	assert.Equal(t, "_blank", doc.Action.Target)
}

func TestGroupByTypeKeepsFirstSeenOrder(t *testing.T) {
	groups := groupByType([]Item{{Type: TypeDocument}, {Type: TypeLead}, {Type: TypeDocument}})
	require.Len(t, groups, 2)
	assert.Equal(t, TypeDocument, groups[0].Type)
	assert.Len(t, groups[0].Items, 2)
	assert.Equal(t, TypeLead, groups[1].Type)
}
