package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFileIsAnonymous(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "session.json"), logging.Discard())
	require.NoError(t, err)

	assert.Empty(t, s.Token())
	assert.False(t, s.IsAuthenticated())
}

func TestOpen_ReadsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"state":{"isAuthenticated":true,"token":"tok-1"}}`), 0o600))

	s, err := Open(path, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", s.Token())
	assert.True(t, s.IsAuthenticated())
}

func TestOpen_FlagWithoutTokenIsAnonymous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"state":{"isAuthenticated":true,"token":""}}`), 0o600))

	s, err := Open(path, logging.Discard())
	require.NoError(t, err)

	assert.False(t, s.IsAuthenticated())
	assert.True(t, s.State().IsAuthenticated)
}

func TestOpen_InvalidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Open(path, logging.Discard())
	assert.Error(t, err)
}

func TestFileStore_SaveNotifiesOnTokenChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := Open(path, logging.Discard())
	require.NoError(t, err)

	var tokens []string
	dispose := s.OnChange(func(token string) {
		tokens = append(tokens, token)
	})

	require.NoError(t, s.Save(State{IsAuthenticated: true, Token: "tok-1"}))
	require.NoError(t, s.Save(State{IsAuthenticated: true, Token: "tok-1"}))
	require.NoError(t, s.Save(State{}))
	assert.Equal(t, []string{"tok-1", ""}, tokens)

	dispose()
	require.NoError(t, s.Save(State{IsAuthenticated: true, Token: "tok-2"}))
	assert.Len(t, tokens, 2)

	reopened, err := Open(path, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, State{IsAuthenticated: true, Token: "tok-2"}, reopened.State())
}

func TestFileStore_WatchReloadsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path, logging.Discard())
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		latest string
	)
	s.OnChange(func(token string) {
		mu.Lock()
		latest = token
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"state":{"isAuthenticated":true,"token":"external"}}`), 0o600)
		mu.Lock()
		defer mu.Unlock()
		return latest == "external"
	}, 5*time.Second, 100*time.Millisecond)

	assert.True(t, s.IsAuthenticated())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func newGuardedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Guard(GuardOptions{LoginPath: "/login", HomePath: "/dashboard", Public: []string{"/healthz"}}, logging.Discard()))

	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	r.Get("/login", ok)
	r.Get("/dashboard", ok)
	r.Get("/healthz", ok)
	return r
}

func request(t *testing.T, h http.Handler, path string, state *State) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if state != nil {
		cookie, err := Cookie(*state)
		require.NoError(t, err)
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	signedIn := &State{IsAuthenticated: true, Token: "tok"}
	signedOut := &State{IsAuthenticated: false}
	flagOnly := &State{IsAuthenticated: true}

	tests := []struct {
		name     string
		path     string
		state    *State
		status   int
		location string
	}{
		{name: "anonymous protected", path: "/dashboard", status: http.StatusFound, location: "/login"},
		{name: "signed out protected", path: "/dashboard", state: signedOut, status: http.StatusFound, location: "/login"},
		{name: "signed in protected", path: "/dashboard", state: signedIn, status: http.StatusOK},
		{name: "flag without token protected", path: "/dashboard", state: flagOnly, status: http.StatusFound, location: "/login"},
		{name: "flag without token login", path: "/login", state: flagOnly, status: http.StatusOK},
		{name: "anonymous login", path: "/login", status: http.StatusOK},
		{name: "signed in login", path: "/login", state: signedIn, status: http.StatusFound, location: "/dashboard"},
		{name: "public", path: "/healthz", status: http.StatusOK},
	}

	h := newGuardedRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, h, tt.path, tt.state)
			assert.Equal(t, tt.status, rec.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, rec.Header().Get("Location"))
			}
		})
	}
}

func TestFromRequest_BadCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})

	assert.Equal(t, State{}, FromRequest(req))
}
