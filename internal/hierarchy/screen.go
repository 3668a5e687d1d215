package hierarchy

import (
	"context"
	"sync"

	"github.com/communicity/portal/internal/selection"
)

// Screen is one live instance of a selection screen. Each Load supersedes the
// previous one: only the result of the latest Load is delivered, and nothing
// is delivered after Close.
type Screen struct {
	loader  *Loader
	level   selection.Level
	deliver func(View)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
	path   selection.Path

	// deliverMu keeps the generation check and the delivery atomic with respect to each other.
	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// NewScreen creates a screen for level. deliver receives the terminal view of each current load.
func NewScreen(loader *Loader, level selection.Level, deliver func(View)) *Screen {
	return &Screen{loader: loader, level: level, deliver: deliver}
}

// Level returns the screen's level.
func (s *Screen) Level() selection.Level {
	return s.level
}

// Path returns the selection of the latest Load.
func (s *Screen) Path() selection.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Load validates path and starts a fetch, returning the view to show now:
// loading, or missing selection when an ancestor is absent (no fetch is made).
func (s *Screen) Load(ctx context.Context, path selection.Path) View {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return LoadingView(s.level, path)
	}
	s.gen++
	gen := s.gen
	s.path = path
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	parentID, err := path.ForScreen(s.level)
	if err != nil {
		s.mu.Unlock()
		return MissingSelectionView(s.level, path)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()

		recs, err := s.loader.ListChildren(fetchCtx, s.level, parentID)
		view := ResultView(s.level, path, recs, err)

		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()
		if !s.current(gen) {
			s.loader.recordStale(s.level)
			return
		}
		s.deliver(view)
	}()

	return LoadingView(s.level, path)
}

// Reload repeats the latest Load, superseding any fetch in flight.
func (s *Screen) Reload(ctx context.Context) View {
	return s.Load(ctx, s.Path())
}

// Close cancels any fetch in flight and stops all further delivery. When it
// returns no delivery is running. deliver must not call Close.
func (s *Screen) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// Wait blocks until every started fetch has finished.
func (s *Screen) Wait() {
	s.wg.Wait()
}

func (s *Screen) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.gen == gen
}
