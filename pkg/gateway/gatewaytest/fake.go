// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
)

// Call records one gateway invocation.
type Call struct {
	Op    string
	Table string
	Query gateway.Query
}

// Fake is a scripted Gateway. Unknown tables behave like missing relations.
type Fake struct {
	mu sync.Mutex

	tables         map[string][]gateway.Row
	missingColumns map[string]map[string]bool
	failures       map[string]error
	calls          []Call

	// BeforeSelect runs before every Select; a non-nil error is returned as is.
	BeforeSelect func(ctx context.Context, table string, q gateway.Query) error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables:         make(map[string][]gateway.Row),
		missingColumns: make(map[string]map[string]bool),
		failures:       make(map[string]error),
	}
}

var _ gateway.Gateway = (*Fake)(nil)

// Seed creates table (if needed) and appends rows.
func (f *Fake) Seed(table string, rows ...gateway.Row) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.tables[table]
	if existing == nil {
		existing = []gateway.Row{}
	}
	for _, r := range rows {
		existing = append(existing, r.Clone())
	}
	f.tables[table] = existing
	return f
}

// DropColumn makes any filter or order on table.column fail with a missing column error.
func (f *Fake) DropColumn(table, column string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missingColumns[table] == nil {
		f.missingColumns[table] = make(map[string]bool)
	}
	f.missingColumns[table][column] = true
	return f
}

// Fail makes every operation on table return err.
func (f *Fake) Fail(table string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[table] = err
	return f
}

// Heal removes a failure installed with Fail.
func (f *Fake) Heal(table string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, table)
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo counts invocations of op on table.
func (f *Fake) CallsTo(op, table string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && c.Table == table {
			n++
		}
	}
	return n
}

// Rows returns a copy of the stored rows of table.
func (f *Fake) Rows(table string) []gateway.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Row, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

func (f *Fake) record(op, table string, q gateway.Query) error {
	f.calls = append(f.calls, Call{Op: op, Table: table, Query: q})
	if err, ok := f.failures[table]; ok {
		return err
	}
	if _, ok := f.tables[table]; !ok {
		return gateway.MissingRelation(table)
	}
	return nil
}

func (f *Fake) checkColumns(table string, filters []gateway.Filter, order *gateway.Order) error {
	missing := f.missingColumns[table]
	for _, flt := range filters {
		if missing[flt.Column] {
			return gateway.MissingColumn(table, flt.Column)
		}
	}
	if order != nil && missing[order.Column] {
		return gateway.MissingColumn(table, order.Column)
	}
	return nil
}

func (f *Fake) Select(ctx context.Context, _ *session.Session, table string, q gateway.Query) ([]gateway.Row, error) {
	if f.BeforeSelect != nil {
		if err := f.BeforeSelect(ctx, table, q); err != nil {
			f.mu.Lock()
			f.calls = append(f.calls, Call{Op: "select", Table: table, Query: q})
			f.mu.Unlock()
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("select", table, q); err != nil {
		return nil, err
	}
	if err := f.checkColumns(table, append(append([]gateway.Filter{}, q.Filters...), q.Any...), q.Order); err != nil {
		return nil, err
	}

	var out []gateway.Row
	for _, r := range f.tables[table] {
		if !matchAll(r, q.Filters) || !matchAny(r, q.Any) {
			continue
		}
		out = append(out, r.Clone())
	}
	if q.Order != nil {
		col, desc := q.Order.Column, q.Order.Descending
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return out[i].String(col) > out[j].String(col)
			}
			return out[i].String(col) < out[j].String(col)
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *Fake) Insert(_ context.Context, _ *session.Session, table string, row gateway.Row) (gateway.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("insert", table, gateway.Query{}); err != nil {
		return nil, err
	}
	stored := row.Clone()
	if stored.ID() == "" {
		stored["id"] = fmt.Sprintf("%s-%d", table, len(f.tables[table])+1)
	}
	f.tables[table] = append(f.tables[table], stored)
	return stored.Clone(), nil
}

func (f *Fake) Update(_ context.Context, _ *session.Session, table string, filters []gateway.Filter, patch gateway.Row) (gateway.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update", table, gateway.Query{Filters: filters}); err != nil {
		return nil, err
	}
	if err := f.checkColumns(table, filters, nil); err != nil {
		return nil, err
	}
	var last gateway.Row
	for _, r := range f.tables[table] {
		if !matchAll(r, filters) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		last = r.Clone()
	}
	if last == nil {
		return nil, gateway.NoRows(table)
	}
	return last, nil
}

func (f *Fake) Upsert(_ context.Context, _ *session.Session, table string, row gateway.Row, onConflict string) (gateway.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("upsert", table, gateway.Query{}); err != nil {
		return nil, err
	}
	if onConflict == "" {
		onConflict = "id"
	}
	key := row.String(onConflict)
	if key != "" {
		for _, r := range f.tables[table] {
			if r.String(onConflict) == key {
				for k, v := range row {
					r[k] = v
				}
				return r.Clone(), nil
			}
		}
	}
	stored := row.Clone()
	if stored.ID() == "" {
		stored["id"] = fmt.Sprintf("%s-%d", table, len(f.tables[table])+1)
	}
	f.tables[table] = append(f.tables[table], stored)
	return stored.Clone(), nil
}

func (f *Fake) Delete(_ context.Context, _ *session.Session, table string, filters []gateway.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete", table, gateway.Query{Filters: filters}); err != nil {
		return err
	}
	kept := f.tables[table][:0]
	for _, r := range f.tables[table] {
		if !matchAll(r, filters) {
			kept = append(kept, r)
		}
	}
	f.tables[table] = kept
	return nil
}

func matchAll(r gateway.Row, filters []gateway.Filter) bool {
	for _, flt := range filters {
		if !match(r, flt) {
			return false
		}
	}
	return true
}

func matchAny(r gateway.Row, filters []gateway.Filter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, flt := range filters {
		if match(r, flt) {
			return true
		}
	}
	return false
}

func match(r gateway.Row, flt gateway.Filter) bool {
	if b, ok := flt.Value.(bool); ok {
		got := r.Bool(flt.Column)
		switch flt.Op {
		case gateway.OpNeq:
			return got != b
		default:
			return got == b
		}
	}
	if flt.Value == nil && flt.Op == gateway.OpIs {
		v, ok := r[flt.Column]
		return !ok || v == nil
	}

	got := r.String(flt.Column)
	want := fmt.Sprint(flt.Value)
	switch flt.Op {
	case gateway.OpEq:
		return got == want
	case gateway.OpNeq:
		return got != want
	case gateway.OpLt:
		return got != "" && got < want
	case gateway.OpLte:
		return got != "" && got <= want
	case gateway.OpGt:
		return got > want
	case gateway.OpGte:
		return got >= want
	case gateway.OpILike:
		return strings.Contains(strings.ToLower(got), strings.ToLower(want))
	default:
		return false
	}
}
