package session

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/HMasataka/agentws/internal/logging"
)

// CookieName is the cookie carrying the session record
const CookieName = "auth-storage"

// GuardOptions configures the route guard
type GuardOptions struct {
	LoginPath string
	HomePath  string
	// Public paths are served without a session.
	Public []string
}

// FromRequest reads the session record from the request cookie. A missing or
// unreadable cookie is an anonymous session.
func FromRequest(r *http.Request) State {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return State{}
	}

	value, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return State{}
	}

	state, err := ParseRecord([]byte(value))
	if err != nil {
		return State{}
	}
	return state
}

// Guard redirects anonymous requests to the login path and signed-in
// requests for the login path to the home path
func Guard(opts GuardOptions, logger *logging.Logger) func(http.Handler) http.Handler {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.HomePath == "" {
		opts.HomePath = "/"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("guard")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := strings.TrimSuffix(r.URL.Path, "/")
			if path == "" {
				path = "/"
			}
			authenticated := FromRequest(r).SignedIn()

			switch {
			case path == opts.LoginPath:
				if authenticated {
					http.Redirect(w, r, opts.HomePath, http.StatusFound)
					return
				}
			case slices.Contains(opts.Public, path):
			case !authenticated:
				logger.Debug("redirecting anonymous request", "path", r.URL.Path)
				http.Redirect(w, r, opts.LoginPath, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Cookie builds the session cookie for state
func Cookie(state State) (*http.Cookie, error) {
	value, err := MarshalRecord(state)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(string(value)),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}, nil
}
