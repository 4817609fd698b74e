package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
)

// Gateway implements gateway.Gateway over PostgREST.
type Gateway struct {
	client *Client
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates a row gateway sharing client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

func tablePath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

func (g *Gateway) Select(ctx context.Context, sess *session.Session, table string, q gateway.Query) ([]gateway.Row, error) {
	params := url.Values{}
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	params.Set("select", cols)
	addFilters(params, q.Filters)
	if len(q.Any) > 0 {
		parts := make([]string, 0, len(q.Any))
		for _, f := range q.Any {
			parts = append(parts, f.Column+"."+string(f.Op)+"."+orValue(f))
		}
		params.Set("or", "("+strings.Join(parts, ",")+")")
	}
	if q.Order != nil {
		dir := "asc"
		if q.Order.Descending {
			dir = "desc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var rows []gateway.Row
	resp, err := g.client.request(sess).
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(&rows).
		Get(tablePath(table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return rows, nil
}

func (g *Gateway) Insert(ctx context.Context, sess *session.Session, table string, row gateway.Row) (gateway.Row, error) {
	return g.write(ctx, sess, "POST", table, nil, row, "return=representation")
}

func (g *Gateway) Update(ctx context.Context, sess *session.Session, table string, filters []gateway.Filter, patch gateway.Row) (gateway.Row, error) {
	params := url.Values{}
	addFilters(params, filters)
	row, err := g.write(ctx, sess, "PATCH", table, params, patch, "return=representation")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, gateway.NoRows(table)
	}
	return row, nil
}

func (g *Gateway) Upsert(ctx context.Context, sess *session.Session, table string, row gateway.Row, onConflict string) (gateway.Row, error) {
	params := url.Values{}
	if onConflict != "" {
		params.Set("on_conflict", onConflict)
	}
	return g.write(ctx, sess, "POST", table, params, row, "resolution=merge-duplicates,return=representation")
}

func (g *Gateway) Delete(ctx context.Context, sess *session.Session, table string, filters []gateway.Filter) error {
	params := url.Values{}
	addFilters(params, filters)
	resp, err := g.client.request(sess).
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Delete(tablePath(table))
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func (g *Gateway) write(ctx context.Context, sess *session.Session, method, table string, params url.Values, body gateway.Row, prefer string) (gateway.Row, error) {
	var rows []gateway.Row
	req := g.client.request(sess).
		SetContext(ctx).
		SetHeader("Prefer", prefer).
		SetBody(body).
		SetResult(&rows)
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}
	resp, err := req.Execute(method, tablePath(table))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), table, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[len(rows)-1], nil
}

func addFilters(params url.Values, filters []gateway.Filter) {
	for _, f := range filters {
		params.Add(f.Column, string(f.Op)+"."+filterValue(f))
	}
}

func filterValue(f gateway.Filter) string {
	switch v := f.Value.(type) {
	case nil:
		return "null"
	case string:
		if f.Op == gateway.OpILike {
			return "*" + v + "*"
		}
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// orValue quotes values inside or=(...) groups, where commas and parentheses are reserved.
func orValue(f gateway.Filter) string {
	v := filterValue(f)
	if strings.ContainsAny(v, `,()"\ `) {
		v = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
	}
	return v
}
