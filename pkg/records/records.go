// Package records manages the plain CRM entity lists (leads, projects, suppliers and so on).
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownEntity        = errors.New("unknown entity")
	ErrConfirmationRequired = errors.New("deleting a record requires confirmation")
	ErrMissingID            = errors.New("record id is required")
)

// Entities lists the entity sets exposed as collections.
var Entities = []string{
	gateway.TableLeads,
	gateway.TableProjects,
	gateway.TableSuppliers,
	gateway.TableMaterials,
	gateway.TableDocuments,
	gateway.TableActivities,
}

// Known reports whether entity is one of Entities.
func Known(entity string) bool {
	for _, e := range Entities {
		if e == entity {
			return true
		}
	}
	return false
}

// Collection is the cached list of one entity set.
type Collection struct {
	gw    gateway.Gateway
	table string
	log   zerolog.Logger

	mu   sync.Mutex
	rows []gateway.Row
}

// NewCollection creates a Collection for table.
func NewCollection(gw gateway.Gateway, table string, log zerolog.Logger) (*Collection, error) {
	if !Known(table) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, table)
	}
	return &Collection{gw: gw, table: table, log: log.With().Str("entity", table).Logger()}, nil
}

// Table is the entity set name.
func (c *Collection) Table() string {
	return c.table
}

// List reloads the collection, newest first. A missing created_at column
// falls back to backend order and a missing entity set yields an empty list.
func (c *Collection) List(ctx context.Context, sess *session.Session) ([]gateway.Row, error) {
	rows, err := c.gw.Select(ctx, sess, c.table, gateway.Query{Order: &gateway.Order{Column: "created_at", Descending: true}})
	if err != nil {
		switch gateway.Classify(err, c.table) {
		case gateway.KindMissingColumn:
			rows, err = c.gw.Select(ctx, sess, c.table, gateway.Query{})
		case gateway.KindMissingRelation:
			c.log.Debug().Err(err).Msg("entity set not provisioned")
			rows, err = nil, nil
		}
	}
	if err != nil {
		return c.Rows(), err
	}

	c.mu.Lock()
	c.rows = cloneRows(rows)
	c.mu.Unlock()
	return cloneRows(rows), nil
}

// Save inserts or updates row by id and refreshes the cached copy.
func (c *Collection) Save(ctx context.Context, sess *session.Session, row gateway.Row) (gateway.Row, error) {
	saved, err := c.gw.Upsert(ctx, sess, c.table, row, "id")
	if err != nil {
		return nil, err
	}
	if saved == nil {
		saved = row.Clone()
	}

	c.mu.Lock()
	replaced := false
	for i, r := range c.rows {
		if r.ID() != "" && r.ID() == saved.ID() {
			c.rows[i] = saved.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		c.rows = append([]gateway.Row{saved.Clone()}, c.rows...)
	}
	c.mu.Unlock()
	return saved, nil
}

// Delete removes the record with id after explicit confirmation. The cached
// list is restored when the request fails.
func (c *Collection) Delete(ctx context.Context, sess *session.Session, id string, confirmed bool) error {
	if id == "" {
		return ErrMissingID
	}
	if !confirmed {
		return ErrConfirmationRequired
	}

	c.mu.Lock()
	prev := c.rows
	kept := make([]gateway.Row, 0, len(prev))
	for _, r := range prev {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	c.rows = kept
	c.mu.Unlock()

	if err := c.gw.Delete(ctx, sess, c.table, []gateway.Filter{gateway.Eq("id", id)}); err != nil {
		c.mu.Lock()
		c.rows = prev
		c.mu.Unlock()
		return err
	}
	return nil
}

// Rows returns the cached list.
func (c *Collection) Rows() []gateway.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRows(c.rows)
}

func cloneRows(in []gateway.Row) []gateway.Row {
	out := make([]gateway.Row, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}

// Store holds one Collection per entity set.
type Store struct {
	cols map[string]*Collection
}

// NewStore creates collections for every entity in Entities.
func NewStore(gw gateway.Gateway, log zerolog.Logger) *Store {
	s := &Store{cols: make(map[string]*Collection, len(Entities))}
	for _, e := range Entities {
		c, _ := NewCollection(gw, e, log)
		s.cols[e] = c
	}
	return s
}

// Collection returns the collection for entity.
func (s *Store) Collection(entity string) (*Collection, error) {
	c, ok := s.cols[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return c, nil
}
