package hierarchy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/selection"
)

// countingStore records every query and answers from a MemoryStore, or with err.
type countingStore struct {
	mu      sync.Mutex
	inner   *records.MemoryStore
	err     error
	queries []records.Filter
	gate    chan struct{}
}

func (s *countingStore) Query(ctx context.Context, table string, filter records.Filter, order records.Order) ([]records.Record, error) {
	s.mu.Lock()
	s.queries = append(s.queries, filter)
	gate, err := s.gate, s.err
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, table, filter, order)
}

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func strPtr(s string) *string { return &s }

func newStore(t *testing.T) *countingStore {
	t.Helper()
	mem := records.NewMemoryStore()
	require.NoError(t, mem.Put(records.TableCities,
		records.Record{ID: "c1", Name: "Lisbon"},
		records.Record{ID: "c2", Name: "Empty Town"},
	))
	require.NoError(t, mem.Put(records.TableNeighborhoods,
		records.Record{ID: "n1", ParentID: "c1", Name: "Zeta"},
		records.Record{ID: "n2", ParentID: "c1", Name: "Alpha", Description: strPtr("Old quarter"), ImageURL: strPtr("https://img/alpha.png")},
	))
	require.NoError(t, mem.Put(records.TableApartments,
		records.Record{ID: "a1", ParentID: "n2", Name: "Tower"},
	))
	require.NoError(t, mem.Put(records.TableFloors,
		records.Record{ID: "f1", ParentID: "a1", Name: "Ground"},
	))
	return &countingStore{inner: mem}
}

func pathOf(t *testing.T, ids ...string) selection.Path {
	t.Helper()
	p := selection.Empty
	for i, id := range ids {
		var err error
		p, err = selection.Append(p, selection.Level(i), id)
		require.NoError(t, err)
	}
	return p
}

// unsortedStore returns rows in insertion order regardless of the requested order.
type unsortedStore struct{ rows []records.Record }

func (s unsortedStore) Query(context.Context, string, records.Filter, records.Order) ([]records.Record, error) {
	out := make([]records.Record, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func TestListChildrenSortsByName(t *testing.T) {
	loader := NewLoader(unsortedStore{rows: []records.Record{
		{ID: "n1", Name: "Zeta"},
		{ID: "n2", Name: "Alpha"},
	}}, time.Second, nil, nil)

	recs, err := loader.ListChildren(context.Background(), selection.Neighborhood, "c1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alpha", recs[0].Name)
	assert.Equal(t, "Zeta", recs[1].Name)
}

func TestListChildrenFiltersByParent(t *testing.T) {
	store := newStore(t)
	loader := NewLoader(store, time.Second, nil, nil)

	recs, err := loader.ListChildren(context.Background(), selection.Apartment, "n2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []records.Filter{{Field: "neighborhood_id", Value: "n2"}}, store.queries)

	cities, err := loader.ListChildren(context.Background(), selection.City, "")
	require.NoError(t, err)
	assert.Len(t, cities, 2)
	assert.True(t, store.queries[1].IsZero())
}

func TestListChildrenNeverSendsEmptyParent(t *testing.T) {
	store := newStore(t)
	loader := NewLoader(store, time.Second, nil, nil)

	_, err := loader.ListChildren(context.Background(), selection.Floor, "  ")
	var missing *apperrors.MissingAncestor
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "apartment", missing.Level)
	assert.Zero(t, store.count())
}

func TestListChildrenWrapsFailures(t *testing.T) {
	store := newStore(t)
	store.err = errors.New("connection reset")
	loader := NewLoader(store, time.Second, nil, nil)

	recs, err := loader.ListChildren(context.Background(), selection.Neighborhood, "c1")
	assert.Nil(t, recs)

	var failure *apperrors.RecordFetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "neighborhoods", failure.Level)
	assert.Equal(t, "c1", failure.ParentID)
}

func TestListChildrenTimesOut(t *testing.T) {
	store := newStore(t)
	store.gate = make(chan struct{})
	loader := NewLoader(store, 20*time.Millisecond, nil, nil)

	_, err := loader.ListChildren(context.Background(), selection.Neighborhood, "c1")
	var failure *apperrors.RecordFetchFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveMissingSelectionMakesNoFetch(t *testing.T) {
	store := newStore(t)
	loader := NewLoader(store, time.Second, nil, nil)

	view := loader.Resolve(context.Background(), selection.Apartment, pathOf(t, "c1"))
	assert.Equal(t, StatusMissingSelection, view.Status)
	require.Len(t, view.Actions, 1)
	assert.Equal(t, "/selection/city", view.Actions[0].Href)
	assert.Zero(t, store.count())
}

func TestResolveStates(t *testing.T) {
	store := newStore(t)
	loader := NewLoader(store, time.Second, nil, nil)

	content := loader.Resolve(context.Background(), selection.Neighborhood, pathOf(t, "c1"))
	assert.Equal(t, StatusContent, content.Status)
	assert.Equal(t, "Select Your Neighborhood", content.Title)
	require.Len(t, content.Cards, 2)
	assert.Equal(t, "Alpha", content.Cards[0].Name)
	assert.Equal(t, "Old quarter", content.Cards[0].Description)
	assert.Equal(t, "https://img/alpha.png", content.Cards[0].ImageURL)
	assert.Equal(t, "/selection/city/neighborhood/apartment?cityId=c1&neighborhoodId=n2", content.Cards[0].Action.Href)
	assert.Equal(t, "A friendly and welcoming neighborhood.", content.Cards[1].Description)
	assert.Equal(t, "https://source.unsplash.com/random/400x200/?neighborhood,Zeta", content.Cards[1].ImageURL)
	assert.Equal(t, map[string]string{"cityId": "c1"}, content.Selection)

	empty := loader.Resolve(context.Background(), selection.Neighborhood, pathOf(t, "c2"))
	assert.Equal(t, StatusEmpty, empty.Status)
	assert.Equal(t, "No neighborhoods available in this city yet.", empty.Message)
	assert.Empty(t, empty.Cards)

	store.err = errors.New("boom")
	failed := loader.Resolve(context.Background(), selection.Apartment, pathOf(t, "c1", "n2"))
	assert.Equal(t, StatusError, failed.Status)
	assert.Equal(t, "Failed to load apartments. Please try again.", failed.Message)
	require.Len(t, failed.Actions, 2)
	assert.Equal(t, "/selection/city/neighborhood/apartment?cityId=c1&neighborhoodId=n2", failed.Actions[0].Href)
	assert.Equal(t, "Go back to Neighborhoods", failed.Actions[1].Label)
	assert.Equal(t, "/selection/city/neighborhood?cityId=c1", failed.Actions[1].Href)
	require.NotNil(t, failed.Notification)
}

func TestFloorCardsSubmitSelection(t *testing.T) {
	loader := NewLoader(newStore(t), time.Second, nil, nil)

	view := loader.Resolve(context.Background(), selection.Floor, pathOf(t, "c1", "n2", "a1"))
	require.Len(t, view.Cards, 1)
	action := view.Cards[0].Action
	assert.Equal(t, "POST", action.Method)
	assert.Equal(t, "Select This Floor", action.Label)
	assert.Equal(t, selection.CompletePath+"?cityId=c1&neighborhoodId=n2&apartmentId=a1&floorId=f1", action.Href)
}

func TestCityDetail(t *testing.T) {
	store := newStore(t)
	loader := NewLoader(store, time.Second, nil, nil)

	v := loader.CityDetail(context.Background(), "c1")
	assert.Equal(t, StatusContent, v.Status)
	require.NotNil(t, v.City)
	assert.Equal(t, "Lisbon", v.City.Name)
	assert.Equal(t, "Neighborhoods in Lisbon", v.Heading)
	require.Len(t, v.Neighborhoods, 2)
	assert.Equal(t, "Explore Neighborhood", v.Neighborhoods[0].Action.Label)

	empty := loader.CityDetail(context.Background(), "c2")
	assert.Equal(t, StatusEmpty, empty.Status)
	assert.Equal(t, "No neighborhoods found in this city yet.", empty.Message)

	missing := loader.CityDetail(context.Background(), "nope")
	assert.Equal(t, StatusNotFound, missing.Status)
	assert.Equal(t, "City not found.", missing.Message)

	store.err = errors.New("down")
	failed := loader.CityDetail(context.Background(), "c1")
	assert.Equal(t, StatusError, failed.Status)
	assert.Equal(t, "Failed to load city details. Please try again.", failed.Message)
	assert.Equal(t, "/home", failed.Actions[0].Href)
}

func TestFloorSelectedShortensByRune(t *testing.T) {
	n := FloorSelected("floor-123456789")
	assert.Equal(t, "Floor Selected!", n.Title)
	assert.Equal(t, "You've selected Floor ID: floor-12...", n.Description)

	n = FloorSelected("étage-ünf-9")
	assert.True(t, utf8.ValidString(n.Description))
	assert.Equal(t, "You've selected Floor ID: étage-ün...", n.Description)

	assert.Equal(t, "You've selected Floor ID: f1...", FloorSelected("f1").Description)
}
