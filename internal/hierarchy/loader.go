// Package hierarchy loads the child records shown on each selection screen and
// turns results into screen views.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/logging"
	"github.com/communicity/portal/internal/metrics"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/selection"
)

// DefaultFetchTimeout bounds a single child fetch.
const DefaultFetchTimeout = 10 * time.Second

// Loader fetches child records by parent id.
type Loader struct {
	store   records.Store
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewLoader creates a loader. logger and m may be nil.
func NewLoader(store records.Store, timeout time.Duration, logger *logging.Logger, m *metrics.Metrics) *Loader {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Loader{store: store, timeout: timeout, logger: logger, metrics: m}
}

// ListChildren returns the records of level under parentID, sorted by name.
// City takes no parent. For every other level an empty parentID is rejected
// with a *errors.MissingAncestor before the store is touched.
func (l *Loader) ListChildren(ctx context.Context, level selection.Level, parentID string) ([]records.Record, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("hierarchy: invalid level %d", int(level))
	}

	var filter records.Filter
	if parent, ok := level.Parent(); ok {
		if strings.TrimSpace(parentID) == "" {
			return nil, &apperrors.MissingAncestor{Level: parent.String(), Param: parent.Param()}
		}
		filter = records.Filter{Field: level.ParentField(), Value: parentID}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	recs, err := l.store.Query(ctx, level.Table(), filter, records.ByNameAsc)
	elapsed := time.Since(start)
	if err != nil {
		l.recordFetch(level, "error", elapsed)
		failure := &apperrors.RecordFetchFailure{Level: level.Plural(), ParentID: parentID, Err: err}
		if !errors.Is(err, context.Canceled) {
			l.logger.LogDiagnostic(ctx, "hierarchy", failure, map[string]interface{}{
				"level":     level.String(),
				"parent_id": parentID,
			})
		}
		return nil, failure
	}

	SortByName(recs)
	outcome := "ok"
	if len(recs) == 0 {
		outcome = "empty"
	}
	l.recordFetch(level, outcome, elapsed)
	return recs, nil
}

// City returns one city by id, or records.ErrNotFound.
func (l *Loader) City(ctx context.Context, cityID string) (records.Record, error) {
	if strings.TrimSpace(cityID) == "" {
		return records.Record{}, &apperrors.MissingAncestor{Level: selection.City.String(), Param: selection.City.Param()}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	recs, err := l.store.Query(ctx, records.TableCities, records.Filter{Field: "id", Value: cityID}, records.Order{})
	if err != nil {
		l.recordFetch(selection.City, "error", time.Since(start))
		return records.Record{}, &apperrors.RecordFetchFailure{Level: selection.City.Plural(), ParentID: cityID, Err: err}
	}
	if len(recs) == 0 {
		l.recordFetch(selection.City, "empty", time.Since(start))
		return records.Record{}, records.ErrNotFound
	}
	l.recordFetch(selection.City, "ok", time.Since(start))
	return recs[0], nil
}

// Resolve validates path for the level screen and fetches synchronously.
func (l *Loader) Resolve(ctx context.Context, level selection.Level, path selection.Path) View {
	parentID, err := path.ForScreen(level)
	if err != nil {
		return MissingSelectionView(level, path)
	}
	recs, err := l.ListChildren(ctx, level, parentID)
	return ResultView(level, path, recs, err)
}

// SortByName orders records by name, then id, so equal names stay deterministic.
func SortByName(recs []records.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Name != recs[j].Name {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].ID < recs[j].ID
	})
}

func (l *Loader) recordFetch(level selection.Level, outcome string, d time.Duration) {
	if l.metrics != nil {
		l.metrics.RecordFetch(level.String(), outcome, d)
	}
}

func (l *Loader) recordStale(level selection.Level) {
	if l.metrics != nil {
		l.metrics.RecordStaleDelivery(level.String())
	}
}
