package records

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresQueryFiltersByParent(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "name", "description", "image_url", "created_at", "parent_id"}).
		AddRow("n1", "Alfama", "Old town", nil, created, "c1").
		AddRow("n2", "Baixa", nil, "https://img/baixa.png", created, "c1")

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, name, description, image_url, created_at, "city_id" AS parent_id FROM "neighborhoods" WHERE "city_id" = $1 ORDER BY "name" ASC, id ASC`)).
		WithArgs("c1").
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), TableNeighborhoods, Filter{Field: "city_id", Value: "c1"}, ByNameAsc)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Alfama", got[0].Name)
	assert.Equal(t, "c1", got[0].ParentID)
	require.NotNil(t, got[0].Description)
	assert.Equal(t, "Old town", *got[0].Description)
	assert.Nil(t, got[0].ImageURL)
	assert.Nil(t, got[1].Description)
	assert.True(t, created.Equal(got[1].CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryCities(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, name, description, image_url, created_at, '' AS parent_id FROM "cities" ORDER BY "name" ASC, id ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "image_url", "created_at", "parent_id"}))

	got, err := store.Query(context.Background(), TableCities, Filter{}, ByNameAsc)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryRejectsUnknownColumns(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Query(context.Background(), "users", Filter{}, ByNameAsc)
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = store.Query(context.Background(), TableFloors, Filter{Field: "city_id", Value: "c1"}, ByNameAsc)
	assert.Error(t, err)

	_, err = store.Query(context.Background(), TableFloors, Filter{}, Order{Field: "name; DROP TABLE floors"})
	assert.Error(t, err)
}

func TestPostgresQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	_, err := store.Query(context.Background(), TableFloors, Filter{Field: "apartment_id", Value: "a1"}, ByNameAsc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresSparkCoins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT spark_coins FROM user_balances WHERE user_id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"spark_coins"}).AddRow(250))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT spark_coins FROM user_balances WHERE user_id = $1`)).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"spark_coins"}))

	coins, err := store.SparkCoins(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), coins)

	_, err = store.SparkCoins(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, ApplySchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySchemaStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cities").WillReturnError(errors.New("permission denied"))

	err = ApplySchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema statement 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedPostgres(t *testing.T) {
	store, mock := newMockStore(t)
	seed, err := ParseSeed([]byte(testSeedYAML))
	require.NoError(t, err)

	mock.ExpectBegin()
	// cities, neighborhoods, apartments, floors
	for i := 0; i < 2+2+1+2; i++ {
		mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("INSERT INTO user_balances").WithArgs("u1", int64(250)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, SeedPostgres(context.Background(), store.DB(), seed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedPostgresRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	seed, err := ParseSeed([]byte(testSeedYAML))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("duplicate"))
	mock.ExpectRollback()

	err = SeedPostgres(context.Background(), store.DB(), seed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed cities")
	assert.NoError(t, mock.ExpectationsWereMet())
}
