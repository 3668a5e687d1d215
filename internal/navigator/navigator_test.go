package navigator

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communicity/portal/internal/auth"
	apperrors "github.com/communicity/portal/internal/errors"
	"github.com/communicity/portal/internal/hierarchy"
	"github.com/communicity/portal/internal/records"
	"github.com/communicity/portal/internal/routes"
	"github.com/communicity/portal/internal/session"
)

const seedYAML = `
cities:
  - id: c2
    name: Zeta City
    neighborhoods:
      - id: n1
        name: Harbor
  - id: c1
    name: Alpha City
`

type tokenProvider struct {
	mu    sync.Mutex
	users map[string]auth.Identity
}

func (p *tokenProvider) GetCurrentSession(_ context.Context, tokens auth.Tokens) (*auth.Grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.users[tokens.AccessToken]
	if !ok {
		return nil, apperrors.ErrNoSession
	}
	return &auth.Grant{Identity: id, Tokens: tokens}, nil
}

func (p *tokenProvider) SignIn(context.Context, string, string) (*auth.Grant, error) {
	return nil, &auth.RejectedError{StatusCode: 400, Message: "Invalid login credentials"}
}

func (p *tokenProvider) SignUp(context.Context, string, string, map[string]any) (*auth.Grant, error) {
	return &auth.Grant{}, nil
}

func (p *tokenProvider) SignOut(context.Context, auth.Tokens) error { return nil }

type stubRenderer struct{}

func (stubRenderer) RenderScreen(_ context.Context, route routes.Route, target *url.URL, s *session.Session) any {
	return map[string]any{"screen": string(route.Screen), "path": target.Path, "signed_in": s != nil}
}

type harness struct {
	nav      *Navigator
	cache    *session.Cache
	messages chan Message
}

func seededStore(t *testing.T) *records.MemoryStore {
	t.Helper()
	seed, err := records.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	return records.NewMemoryStoreFromSeed(seed)
}

// flakyStore fails its first query and then serves from the wrapped store.
type flakyStore struct {
	records.Store
	mu    sync.Mutex
	calls int
}

func (f *flakyStore) Query(ctx context.Context, table string, filter records.Filter, order records.Order) ([]records.Record, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		return nil, errors.New("connection reset by peer")
	}
	return f.Store.Query(ctx, table, filter, order)
}

func (f *flakyStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newHarness(t *testing.T, signedIn bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, signedIn, seededStore(t))
}

func newHarnessWithStore(t *testing.T, signedIn bool, store records.Store) *harness {
	t.Helper()

	loader := hierarchy.NewLoader(store, time.Second, nil, nil)

	provider := &tokenProvider{users: map[string]auth.Identity{
		"tok-ada": {UserID: "u1", Email: "ada@example.com"},
	}}
	tokens := session.NewMemoryTokenStore(0)
	if signedIn {
		require.NoError(t, tokens.Save(context.Background(), "v1", auth.Tokens{AccessToken: "tok-ada", RefreshToken: "r"}))
	}
	cache := session.NewCache("v1", session.CacheOptions{Provider: provider, Tokens: tokens})

	h := &harness{cache: cache, messages: make(chan Message, 64)}
	h.nav = New(Options{
		Cache:    cache,
		Loader:   loader,
		Renderer: stubRenderer{},
		Send:     func(m Message) { h.messages <- m },
	})
	h.nav.Start(context.Background())
	t.Cleanup(h.nav.Close)
	return h
}

func (h *harness) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-h.messages:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func (h *harness) quiet(t *testing.T) {
	t.Helper()
	select {
	case m := <-h.messages:
		t.Fatalf("unexpected %s message", m.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGuestIsRedirectedToLogin(t *testing.T) {
	h := newHarness(t, false)
	h.nav.Navigate("/home")

	m := h.next(t)
	assert.Equal(t, TypeRedirect, m.Type)
	assert.Equal(t, "/login", m.Location)

	m = h.next(t)
	assert.Equal(t, TypeScreen, m.Type)
	assert.Equal(t, "login", m.Screen.(map[string]any)["screen"])
	h.quiet(t)
}

func TestSignedInVisitorLeavesPublicScreens(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/login")

	m := h.next(t)
	assert.Equal(t, TypeRedirect, m.Type)
	assert.Equal(t, "/home", m.Location)

	m = h.next(t)
	assert.Equal(t, "home", m.Screen.(map[string]any)["screen"])
	assert.Equal(t, true, m.Screen.(map[string]any)["signed_in"])
}

func TestSelectionScreenLoadsThenShowsSortedCities(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/selection/city")

	loading := h.next(t).Screen.(hierarchy.View)
	assert.Equal(t, hierarchy.StatusLoading, loading.Status)

	done := h.next(t).Screen.(hierarchy.View)
	require.Equal(t, hierarchy.StatusContent, done.Status)
	require.Len(t, done.Cards, 2)
	assert.Equal(t, "Alpha City", done.Cards[0].Name)
	assert.Equal(t, "Zeta City", done.Cards[1].Name)
}

func TestMissingSelectionNotifies(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/selection/city/neighborhood")

	v := h.next(t).Screen.(hierarchy.View)
	assert.Equal(t, hierarchy.StatusMissingSelection, v.Status)

	m := h.next(t)
	assert.Equal(t, TypeNotification, m.Type)
	require.NotNil(t, m.Notification)
	h.quiet(t)
}

func TestSignOutRedirectsProtectedScreen(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/home")
	assert.Equal(t, "home", h.next(t).Screen.(map[string]any)["screen"])

	require.NoError(t, h.cache.SignOut(context.Background()))

	m := h.next(t)
	assert.Equal(t, TypeRedirect, m.Type)
	assert.Equal(t, "/login", m.Location)
	assert.Equal(t, "login", h.next(t).Screen.(map[string]any)["screen"])
}

func TestSameScreenIsNotRenderedTwice(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/marketplace")
	h.next(t)

	h.nav.Navigate("/marketplace")
	h.quiet(t)
}

func TestRetryAfterFailedFetchLoadsAgain(t *testing.T) {
	store := &flakyStore{Store: seededStore(t)}
	h := newHarnessWithStore(t, true, store)
	h.nav.Navigate("/selection/city")

	m := h.next(t)
	require.Equal(t, TypeScreen, m.Type)
	assert.Equal(t, hierarchy.StatusLoading, m.Screen.(hierarchy.View).Status)

	m = h.next(t)
	failed := m.Screen.(hierarchy.View)
	require.Equal(t, hierarchy.StatusError, failed.Status)
	assert.Equal(t, TypeNotification, h.next(t).Type)

	var retry hierarchy.Action
	for _, a := range failed.Actions {
		if a.Kind == "retry" {
			retry = a
		}
	}
	require.Equal(t, "/selection/city", retry.Href)

	h.nav.Navigate(retry.Href)
	assert.Equal(t, hierarchy.StatusLoading, h.next(t).Screen.(hierarchy.View).Status)

	content := h.next(t).Screen.(hierarchy.View)
	require.Equal(t, hierarchy.StatusContent, content.Status)
	require.Len(t, content.Cards, 2)
	assert.Equal(t, "Alpha City", content.Cards[0].Name)
	assert.Equal(t, 2, store.Calls())

	h.nav.Navigate("/selection/city")
	h.quiet(t)
}

func TestSubmitFloorCompletesSelection(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("/home")
	h.next(t)

	h.nav.Submit("/selection/city/neighborhood/apartment/floor/select?cityId=c1&neighborhoodId=n1&apartmentId=a1&floorId=floor-123456789")

	m := h.next(t)
	require.Equal(t, TypeNotification, m.Type)
	assert.Equal(t, "Floor Selected!", m.Notification.Title)
	assert.Equal(t, "You've selected Floor ID: floor-12...", m.Notification.Description)

	m = h.next(t)
	assert.Equal(t, TypeRedirect, m.Type)
	assert.Equal(t, "/home", m.Location)
}

func TestSubmitWithoutAncestorsIsRejected(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Submit("/selection/city/neighborhood/apartment/floor/select?cityId=c1&floorId=f1")

	m := h.next(t)
	require.Equal(t, TypeNotification, m.Type)
	assert.Equal(t, "Missing selection", m.Notification.Title)
	h.quiet(t)
}

func TestInvalidPathNotifies(t *testing.T) {
	h := newHarness(t, true)
	h.nav.Navigate("%zz")

	m := h.next(t)
	assert.Equal(t, TypeNotification, m.Type)
}

func TestCloseUnsubscribes(t *testing.T) {
	h := newHarness(t, true)
	assert.Equal(t, 1, h.cache.Subscribers())
	h.nav.Close()
	assert.Equal(t, 0, h.cache.Subscribers())
}
