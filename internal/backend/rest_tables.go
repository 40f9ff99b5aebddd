package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"brokerage-client/internal/apperr"
)

// RestTables reaches tables through the backend's PostgREST endpoint.
type RestTables struct {
	client *Client
}

func NewRestTables(client *Client) *RestTables {
	return &RestTables{client: client}
}

func tablePath(table string) string {
	return "/rest/v1/" + table
}

func filterQuery(filters []Filter) url.Values {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, f.op()+"."+filterValue(f.Value))
	}
	return q
}

func (t *RestTables) Select(ctx context.Context, table string, q Query, out interface{}) error {
	op := "select " + table
	params := filterQuery(q.Filters)
	params.Set("select", "*")
	if q.OrderBy != "" {
		dir := "asc"
		if q.OrderDesc {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	_, raw, err := t.client.do(ctx, op, http.MethodGet, tablePath(table), params, nil, nil)
	if err != nil {
		return err
	}
	return decodeJSON(op, raw, out)
}

func (t *RestTables) Insert(ctx context.Context, table string, row interface{}, out interface{}) error {
	op := "insert " + table
	headers := map[string]string{"Prefer": "return=representation"}
	_, raw, err := t.client.do(ctx, op, http.MethodPost, tablePath(table), nil, headers, row)
	if err != nil {
		return err
	}
	return decodeFirst(op, raw, out)
}

func (t *RestTables) Upsert(ctx context.Context, table string, row interface{}, out interface{}) error {
	op := "upsert " + table
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=representation"}
	_, raw, err := t.client.do(ctx, op, http.MethodPost, tablePath(table), nil, headers, row)
	if err != nil {
		return err
	}
	return decodeFirst(op, raw, out)
}

func (t *RestTables) Update(ctx context.Context, table string, filters []Filter, patch map[string]interface{}) error {
	op := "update " + table
	if len(filters) == 0 {
		return apperr.New(apperr.KindValidation, op, "refusing to update without a filter")
	}
	_, _, err := t.client.do(ctx, op, http.MethodPatch, tablePath(table), filterQuery(filters), map[string]string{"Prefer": "return=minimal"}, patch)
	return err
}

func (t *RestTables) Delete(ctx context.Context, table string, filters []Filter) error {
	op := "delete " + table
	if len(filters) == 0 {
		return apperr.New(apperr.KindValidation, op, "refusing to delete without a filter")
	}
	_, _, err := t.client.do(ctx, op, http.MethodDelete, tablePath(table), filterQuery(filters), nil, nil)
	return err
}

// decodeFirst unwraps PostgREST's array representation into a single row.
func decodeFirst(op string, raw []byte, out interface{}) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if rv := reflect.ValueOf(out); rv.Kind() == reflect.Ptr && rv.Elem().Kind() == reflect.Slice {
		return decodeJSON(op, raw, out)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return decodeJSON(op, raw, out)
	}
	if len(rows) == 0 {
		return apperr.NotFound(op, "no row returned")
	}
	return decodeJSON(op, rows[0], out)
}
