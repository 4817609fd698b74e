// Package gateway describes the hosted row service the CRM reads from and writes to.
package gateway

import (
	"context"

	"github.com/mklimuk/crm-pilot/pkg/session"
)

// Entity set names used across the service.
const (
	TableLeads      = "leads"
	TableProjects   = "projects"
	TableSuppliers  = "suppliers"
	TableMaterials  = "materials"
	TableDocuments  = "documents"
	TableActivities = "activities"
	TableProfiles   = "profiles"
	TableInvites    = "invites"
)

// Op is a filter operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpILike Op = "ilike" // case-insensitive substring match
	OpIs    Op = "is"    // null / true / false
)

// Filter restricts a column.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }

// Contains builds a case-insensitive substring filter.
func Contains(column, needle string) Filter {
	return Filter{Column: column, Op: OpILike, Value: needle}
}

// Order sorts the selection by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query is a declarative selection. Filters are AND-ed; Any is a single OR group.
type Query struct {
	Columns []string
	Filters []Filter
	Any     []Filter
	Order   *Order
	Limit   int
}

// Gateway is the per-table row API of the hosted backend.
type Gateway interface {
	Select(ctx context.Context, sess *session.Session, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, sess *session.Session, table string, row Row) (Row, error)
	Update(ctx context.Context, sess *session.Session, table string, filters []Filter, patch Row) (Row, error)
	Upsert(ctx context.Context, sess *session.Session, table string, row Row, onConflict string) (Row, error)
	Delete(ctx context.Context, sess *session.Session, table string, filters []Filter) error
}
