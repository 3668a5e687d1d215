// Package records provides the location record store: the contract the
// hierarchy loader queries by parent key, and its Supabase, Postgres and
// in-memory implementations.
package records

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Tables served by the store.
const (
	TableCities        = "cities"
	TableNeighborhoods = "neighborhoods"
	TableApartments    = "apartments"
	TableFloors        = "floors"
	TableUserBalances  = "user_balances"
)

// parentFields maps each location table to its parent column.
var parentFields = map[string]string{
	TableCities:        "",
	TableNeighborhoods: "city_id",
	TableApartments:    "neighborhood_id",
	TableFloors:        "apartment_id",
}

// ErrUnknownTable is returned for tables outside the location hierarchy.
var ErrUnknownTable = errors.New("unknown table")

// ErrNotFound is returned by balance lookups with no row.
var ErrNotFound = errors.New("record not found")

// Record is one City, Neighborhood, Apartment or Floor row.
type Record struct {
	ID          string    `json:"id" db:"id" yaml:"id"`
	ParentID    string    `json:"parent_id,omitempty" db:"parent_id" yaml:"-"`
	Name        string    `json:"name" db:"name" yaml:"name"`
	Description *string   `json:"description" db:"description" yaml:"description,omitempty"`
	ImageURL    *string   `json:"image_url" db:"image_url" yaml:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at" yaml:"created_at,omitempty"`
}

// Filter restricts a query to rows where Field equals Value. A zero Filter matches every row.
type Filter struct {
	Field string
	Value string
}

// IsZero reports whether the filter is empty.
func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Order sorts results. Stores add id as a tie-breaker so equal names keep a stable order.
type Order struct {
	Field     string
	Ascending bool
}

// ByNameAsc is the ordering every selection screen uses.
var ByNameAsc = Order{Field: "name", Ascending: true}

type accessTokenKey struct{}

// WithAccessToken scopes store queries issued with ctx to the signed-in user.
// Stores without row level security ignore it.
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey{}, token)
}

func accessToken(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

// Store queries location records.
type Store interface {
	Query(ctx context.Context, table string, filter Filter, order Order) ([]Record, error)
}

// BalanceStore reads a user's spark-coin balance.
type BalanceStore interface {
	SparkCoins(ctx context.Context, userID string) (int64, error)
}

// ParentField returns the parent column of a location table.
func ParentField(table string) (string, error) {
	field, ok := parentFields[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return field, nil
}

var identifierRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// validateQuery checks table and column names against the hierarchy schema.
func validateQuery(table string, filter Filter, order Order) (string, error) {
	parent, err := ParentField(table)
	if err != nil {
		return "", err
	}
	if !filter.IsZero() {
		if filter.Field != "id" && filter.Field != parent {
			return "", fmt.Errorf("cannot filter %s by %q", table, filter.Field)
		}
	}
	if order.Field != "" && !identifierRE.MatchString(order.Field) {
		return "", fmt.Errorf("invalid order column %q", order.Field)
	}
	return parent, nil
}
