package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore reads records directly from Postgres.
type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects to dsn and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the pool for schema and seed tooling.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, table string, filter Filter, order Order) ([]Record, error) {
	parent, err := validateQuery(table, filter, order)
	if err != nil {
		return nil, err
	}

	parentExpr := "''"
	if parent != "" {
		parentExpr = pq.QuoteIdentifier(parent)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT id, name, description, image_url, created_at, %s AS parent_id FROM %s",
		parentExpr, pq.QuoteIdentifier(table))

	var args []any
	if !filter.IsZero() {
		fmt.Fprintf(&b, " WHERE %s = $1", pq.QuoteIdentifier(filter.Field))
		args = append(args, filter.Value)
	}
	if order.Field != "" {
		dir := "ASC"
		if !order.Ascending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, id ASC", pq.QuoteIdentifier(order.Field), dir)
	}

	var out []Record
	if err := s.db.SelectContext(ctx, &out, b.String(), args...); err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return out, nil
}

// SparkCoins implements BalanceStore.
func (s *PostgresStore) SparkCoins(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.db.GetContext(ctx, &coins, `SELECT spark_coins FROM user_balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return coins, nil
}

// =============================================================================
// Schema
// =============================================================================

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		name TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS neighborhoods (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		city_id TEXT NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS apartments (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		neighborhood_id TEXT NOT NULL REFERENCES neighborhoods(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS floors (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		apartment_id TEXT NOT NULL REFERENCES apartments(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_balances (
		user_id TEXT PRIMARY KEY,
		spark_coins BIGINT NOT NULL DEFAULT 100
	)`,
	`CREATE INDEX IF NOT EXISTS neighborhoods_city_name_idx ON neighborhoods (city_id, name)`,
	`CREATE INDEX IF NOT EXISTS apartments_neighborhood_name_idx ON apartments (neighborhood_id, name)`,
	`CREATE INDEX IF NOT EXISTS floors_apartment_name_idx ON floors (apartment_id, name)`,
}

// ApplySchema creates the hierarchy tables if they do not exist.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// =============================================================================
// Seeding
// =============================================================================

type seedRow struct {
	Record
	ParentColumn string
}

// SeedPostgres upserts every record and balance of seed in one transaction.
func SeedPostgres(ctx context.Context, db *sqlx.DB, seed *Seed) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{TableCities, TableNeighborhoods, TableApartments, TableFloors} {
		parent := parentFields[table]
		for _, rec := range seed.Table(table) {
			if err := upsertRecord(ctx, tx, table, parent, rec); err != nil {
				return err
			}
		}
	}

	for _, bal := range seed.Balances {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO user_balances (user_id, spark_coins) VALUES (:user_id, :spark_coins)
			 ON CONFLICT (user_id) DO UPDATE SET spark_coins = EXCLUDED.spark_coins`, bal); err != nil {
			return fmt.Errorf("seed balance %s: %w", bal.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sqlx.Tx, table, parent string, rec Record) error {
	cols := "id, name, description, image_url"
	vals := ":id, :name, :description, :image_url"
	if parent != "" {
		cols += ", " + pq.QuoteIdentifier(parent)
		vals += ", :parent_id"
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, image_url = EXCLUDED.image_url`,
		pq.QuoteIdentifier(table), cols, vals)

	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("seed %s %s: %w", table, rec.ID, err)
	}
	return nil
}
