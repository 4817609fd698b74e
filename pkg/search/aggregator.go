// Package search runs the debounced cross-entity quick search.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// MinQueryLength is the shortest trimmed query that hits the backend.
	MinQueryLength = 2
	// SourceLimit caps the rows taken from each entity set.
	SourceLimit = 5
	// FallbackLimit caps the unfiltered fetch used when a search column is missing.
	FallbackLimit = 25
	// MaxResults caps the merged list.
	MaxResults = 12
)

type source struct {
	typ     Type
	table   string
	columns []string
	build   func(gateway.Row) Item
}

// sources are queried concurrently and merged in this order.
var sources = []source{
	{typ: TypeLead, table: gateway.TableLeads, columns: []string{"name"}, build: leadItem},
	{typ: TypeSupplier, table: gateway.TableSuppliers, columns: []string{"name"}, build: supplierItem},
	{typ: TypeDocument, table: gateway.TableDocuments, columns: []string{"name"}, build: documentItem},
	{typ: TypeActivity, table: gateway.TableActivities, columns: []string{"title", "subject"}, build: activityItem},
}

// Group is the results of one type, in display order.
type Group struct {
	Type  Type   `json:"type"`
	Items []Item `json:"items"`
}

// Results is one completed search.
type Results struct {
	Query  string  `json:"query"`
	Items  []Item  `json:"items"`
	Groups []Group `json:"groups"`
}

// Empty reports whether nothing matched.
func (r Results) Empty() bool {
	return len(r.Items) == 0
}

// Aggregator fans a query out to every searchable entity set.
type Aggregator struct {
	gw  gateway.Gateway
	log zerolog.Logger
}

// NewAggregator creates an Aggregator over gw.
func NewAggregator(gw gateway.Gateway, log zerolog.Logger) *Aggregator {
	return &Aggregator{gw: gw, log: log.With().Str("component", "search").Logger()}
}

// Valid reports whether query is long enough to search.
func Valid(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) >= MinQueryLength
}

// Search runs the query against every source. Failures of a single source
// yield no rows for it and are never returned.
func (a *Aggregator) Search(ctx context.Context, sess *session.Session, query string) Results {
	q := strings.TrimSpace(query)
	if !Valid(q) {
		return Results{Query: q}
	}

	found := make([][]gateway.Row, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			found[i] = a.querySource(gctx, sess, src, q)
			return nil
		})
	}
	_ = g.Wait()

	return merge(q, found)
}

func (a *Aggregator) querySource(ctx context.Context, sess *session.Session, src source, q string) []gateway.Row {
	var anyOf []gateway.Filter
	for _, col := range src.columns {
		anyOf = append(anyOf, gateway.Contains(col, q))
	}
	rows, err := a.gw.Select(ctx, sess, src.table, gateway.Query{Any: anyOf, Limit: SourceLimit})
	if err == nil {
		return rows
	}

	kind := gateway.Classify(err, src.table)
	if kind != gateway.KindMissingColumn {
		a.log.Debug().Err(err).Str("table", src.table).Str("kind", kind.String()).Msg("search source skipped")
		return nil
	}

	rows, err = a.gw.Select(ctx, sess, src.table, gateway.Query{Limit: FallbackLimit})
	if err != nil {
		a.log.Debug().Err(err).Str("table", src.table).Msg("search fallback failed")
		return nil
	}
	out := make([]gateway.Row, 0, SourceLimit)
	for _, r := range rows {
		if r.ContainsFold(q, src.columns...) {
			out = append(out, r)
			if len(out) == SourceLimit {
				break
			}
		}
	}
	return out
}

func merge(q string, found [][]gateway.Row) Results {
	res := Results{Query: q}
	for i, rows := range found {
		for _, r := range rows {
			if len(res.Items) == MaxResults {
				break
			}
			res.Items = append(res.Items, sources[i].build(r))
		}
	}
	res.Groups = groupByType(res.Items)
	return res
}

func groupByType(items []Item) []Group {
	var groups []Group
	index := map[Type]int{}
	for _, it := range items {
		i, ok := index[it.Type]
		if !ok {
			i = len(groups)
			index[it.Type] = i
			groups = append(groups, Group{Type: it.Type})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}
