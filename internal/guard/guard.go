// Package guard gates console routes on the session's authentication state.
//
// Every request is evaluated afresh from the current authstate snapshot:
//
//	Loading          the initialization check is running; render a placeholder
//	Unauthenticated  redirect to the login screen with the attempted URL in "from"
//	Unauthorized     signed in without the required role; redirect or deny
//	Authorized       serve the route
package guard

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"panel/internal/authstate"
)

// Outcome is the result of evaluating a request against a guard.
type Outcome int

const (
	Loading Outcome = iota
	Unauthenticated
	Unauthorized
	Authorized
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Unauthorized:
		return "unauthorized"
	case Authorized:
		return "authorized"
	}
	return "unknown"
}

// Evaluate is the guard state machine. allow, when not nil, is the role
// check a signed-in state must pass.
func Evaluate(s authstate.State, allow func(authstate.State) bool) Outcome {
	switch {
	case s.IsLoading:
		return Loading
	case !s.IsAuthenticated:
		return Unauthenticated
	case allow != nil && !allow(s):
		return Unauthorized
	}
	return Authorized
}

// StateSource yields the authentication state of the session a request
// belongs to.
type StateSource interface {
	AuthState(r *http.Request) authstate.State
}

// StateSourceFunc adapts a function to StateSource.
type StateSourceFunc func(r *http.Request) authstate.State

func (f StateSourceFunc) AuthState(r *http.Request) authstate.State { return f(r) }

// Renderer draws the two screens a guard can show instead of the route.
type Renderer interface {
	Loading(w http.ResponseWriter, r *http.Request)
	AccessDenied(w http.ResponseWriter, r *http.Request, back string)
}

const (
	DefaultLoginPath    = "/login"
	DefaultFallbackPath = "/dashboard"
)

type Options struct {
	LoginPath string

	// FallbackPath is where Unauthorized requests are sent when
	// ShowUnauthorizedMessage is false.
	FallbackPath string

	// ShowUnauthorizedMessage renders the access-denied screen instead of
	// redirecting.
	ShowUnauthorizedMessage bool

	Renderer Renderer
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LoginPath == "" {
		o.LoginPath = DefaultLoginPath
	}
	if o.FallbackPath == "" {
		o.FallbackPath = DefaultFallbackPath
	}
	if o.Renderer == nil {
		o.Renderer = plainRenderer{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// RequireAuth admits any signed-in session.
func RequireAuth(src StateSource, opts Options) func(http.Handler) http.Handler {
	return RequireRole(src, nil, opts)
}

// RequireAdmin admits signed-in sessions with the admin role.
func RequireAdmin(src StateSource, opts Options) func(http.Handler) http.Handler {
	return RequireRole(src, authstate.IsAdmin, opts)
}

// RequireRole admits signed-in sessions passing allow. A nil allow admits
// every signed-in session.
func RequireRole(src StateSource, allow func(authstate.State) bool, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome := Evaluate(src.AuthState(r), allow)

			switch outcome {
			case Loading:
				opts.Renderer.Loading(w, r)
			case Unauthenticated:
				http.Redirect(w, r, LoginURL(opts.LoginPath, ReturnTarget(r)), http.StatusFound)
			case Unauthorized:
				opts.Logger.Info("guard.unauthorized", "path", r.URL.Path)
				if opts.ShowUnauthorizedMessage {
					opts.Renderer.AccessDenied(w, r, opts.FallbackPath)
					return
				}
				http.Redirect(w, r, opts.FallbackPath, http.StatusFound)
			case Authorized:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// LoginURL is the login screen carrying from as the return target.
func LoginURL(loginPath, from string) string {
	if from == "" || from == loginPath {
		return loginPath
	}
	return loginPath + "?from=" + url.QueryEscape(from)
}

// ReturnTarget is where the user should land after signing in again. A
// GET returns to its own URI. Other methods return to the page that
// submitted them when the Referer is on this site, and to nowhere
// otherwise, since their URI may have no GET route.
func ReturnTarget(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return r.URL.RequestURI()
	}

	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) {
		return ""
	}
	return SafeReturnPath(ref.RequestURI(), "")
}

// SafeReturnPath returns raw when it is a path on this site and def
// otherwise, so a crafted "from" cannot send the user elsewhere.
func SafeReturnPath(raw, def string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return def
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return def
	}
	return raw
}

type plainRenderer struct{}

const (
	loadingHTML = `<!doctype html><html><head><meta http-equiv="refresh" content="1"><title>Loading</title></head>` +
		`<body><p>Loading…</p></body></html>`
	deniedHTML = `<!doctype html><html><head><title>Access denied</title></head><body>` +
		`<h1>Access denied</h1><p>You do not have permission to view this page.</p>` +
		`<p><a href="{{.}}">Back</a> · <a href="/">Home</a></p></body></html>`
)

var plainTemplates = template.Must(template.Must(template.New("loading").Parse(loadingHTML)).New("denied").Parse(deniedHTML))

func (plainRenderer) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = plainTemplates.ExecuteTemplate(w, "loading", nil)
}

func (plainRenderer) AccessDenied(w http.ResponseWriter, r *http.Request, back string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_ = plainTemplates.ExecuteTemplate(w, "denied", back)
}
