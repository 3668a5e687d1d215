package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/supabase/client"
)

// SupabaseStore reads records through PostgREST.
type SupabaseStore struct {
	client *client.Client
}

// NewSupabaseStore wraps a Supabase client.
func NewSupabaseStore(c *client.Client) *SupabaseStore {
	return &SupabaseStore{client: c}
}

// Query implements Store.
func (s *SupabaseStore) Query(ctx context.Context, table string, filter Filter, order Order) ([]Record, error) {
	parent, err := validateQuery(table, filter, order)
	if err != nil {
		return nil, err
	}

	q := s.client.From(table).Select("*")
	if !filter.IsZero() {
		q = q.Eq(filter.Field, filter.Value)
	}
	if order.Field != "" {
		q = q.Order(order.Field, order.Ascending).Order("id", true)
	}

	resp, err := q.Execute(scoped(ctx))
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}

	rows := gjson.ParseBytes(resp.Body)
	if !rows.IsArray() {
		return nil, fmt.Errorf("unexpected %s payload", table)
	}

	var out []Record
	var parseErr error
	rows.ForEach(func(_, row gjson.Result) bool {
		rec, err := recordFromJSON(row, parent)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, rec)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// SparkCoins implements BalanceStore.
func (s *SupabaseStore) SparkCoins(ctx context.Context, userID string) (int64, error) {
	resp, err := s.client.From(TableUserBalances).
		Select("spark_coins").
		Eq("user_id", userID).
		Limit(1).
		Single().
		Execute(scoped(ctx))
	if err != nil {
		return 0, err
	}
	if err := resp.Error(); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.NoRows() {
			return 0, ErrNotFound
		}
		return 0, err
	}
	coins := gjson.GetBytes(resp.Body, "spark_coins")
	if !coins.Exists() {
		return 0, ErrNotFound
	}
	return coins.Int(), nil
}

// Upsert writes rows for seeding. Each row must carry its parent column.
func (s *SupabaseStore) Upsert(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	conflict := "id"
	if table == TableUserBalances {
		conflict = "user_id"
	}
	resp, err := s.client.From(table).OnConflict(conflict).ExecuteUpsert(scoped(ctx), rows)
	if err != nil {
		return err
	}
	return resp.Error()
}

// scoped runs the PostgREST call as the signed-in user and forwards the
// request trace id as X-Request-ID.
func scoped(ctx context.Context) context.Context {
	if token := accessToken(ctx); token != "" {
		ctx = client.WithAccessToken(ctx, token)
	}
	if id := logging.GetTraceID(ctx); id != "" {
		ctx = client.WithRequestID(ctx, id)
	}
	return ctx
}

func recordFromJSON(row gjson.Result, parentField string) (Record, error) {
	rec := Record{
		ID:   row.Get("id").String(),
		Name: row.Get("name").String(),
	}
	if rec.ID == "" {
		return Record{}, fmt.Errorf("record without id")
	}
	if parentField != "" {
		rec.ParentID = row.Get(parentField).String()
	}
	if v := row.Get("description"); v.Exists() && v.Type != gjson.Null {
		d := v.String()
		rec.Description = &d
	}
	if v := row.Get("image_url"); v.Exists() && v.Type != gjson.Null {
		u := v.String()
		rec.ImageURL = &u
	}
	if v := row.Get("created_at"); v.Exists() && v.String() != "" {
		ts, err := parseTimestamp(v.String())
		if err != nil {
			return Record{}, fmt.Errorf("record %s: created_at: %w", rec.ID, err)
		}
		rec.CreatedAt = ts
	}
	return rec, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
