package navigation

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Navigate for a path with no route.
var ErrNotFound = errors.New("no route for path")

// Route is one view of the console.
type Route struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	RequiresAuth bool   `json:"requiresAuth"`
	// RedirectTo makes this route an alias of another path.
	RedirectTo string `json:"-"`
}

// DefaultRoutes is the console's route table.
var DefaultRoutes = []Route{
	{Path: LoginPath, Name: "Login"},
	{Path: HomePath, Name: "Home", RequiresAuth: true},
	{Path: "/home", RedirectTo: HomePath},
	{Path: "/dept", Name: "Dept", RequiresAuth: true},
	{Path: "/user", Name: "User", RequiresAuth: true},
	{Path: "/role", Name: "Role", RequiresAuth: true},
	{Path: "/configuration", Name: "Configuration", RequiresAuth: true},
}

// AuthState reports whether a session token is present.
type AuthState interface {
	IsAuthenticated() bool
}

// Router tracks the current view and applies Guard to every navigation.
type Router struct {
	mu      sync.Mutex
	logger  *zap.Logger
	auth    AuthState
	routes  map[string]Route
	current string
}

// NewRouter builds a router over routes, starting on the login view.
func NewRouter(logger *zap.Logger, auth AuthState, routes []Route) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if routes == nil {
		routes = DefaultRoutes
	}
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		m[r.Path] = r
	}
	return &Router{logger: logger, auth: auth, routes: m, current: LoginPath}
}

// Lookup resolves aliases and returns the route for path.
func (r *Router) Lookup(path string) (Route, bool) {
	path = normalize(path)
	for range len(r.routes) {
		route, ok := r.routes[path]
		if !ok {
			return Route{}, false
		}
		if route.RedirectTo == "" {
			return route, true
		}
		path = route.RedirectTo
	}
	return Route{}, false
}

// Navigate moves to path, following aliases and guard redirects, and returns
// the route actually shown plus the redirect applied ("" when none).
func (r *Router) Navigate(path string) (Route, string, error) {
	target, ok := r.Lookup(path)
	if !ok {
		return Route{}, "", ErrNotFound
	}

	d := Guard(GuardInput{
		TargetRequiresAuth: target.RequiresAuth,
		IsLoginPath:        target.Path == LoginPath,
		Authenticated:      r.auth.IsAuthenticated(),
	})
	if !d.Proceed() {
		redirected, ok := r.Lookup(d.Redirect)
		if !ok {
			return Route{}, "", ErrNotFound
		}
		r.logger.Debug("navigation.redirect",
			zap.String("from", target.Path),
			zap.String("to", redirected.Path))
		target = redirected
	}

	r.mu.Lock()
	r.current = target.Path
	r.mu.Unlock()
	return target, d.Redirect, nil
}

// Current returns the path of the view being shown.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// RedirectToLogin switches to the login view. It reports false and does
// nothing when login is already showing.
func (r *Router) RedirectToLogin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == LoginPath {
		return false
	}
	r.logger.Info("navigation.auth_lost_redirect", zap.String("from", r.current))
	r.current = LoginPath
	return true
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return HomePath
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return HomePath
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
