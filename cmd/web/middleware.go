package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"panel/internal/authstate"
	"panel/internal/guard"
)

// requestLogger logs one line per request.
func (app *Application) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		app.log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

// AuthState lets the guards read the console bound to the request.
func (app *Application) AuthState(r *http.Request) authstate.State {
	sc := scopeFrom(r)
	if sc == nil {
		return authstate.Anonymous()
	}
	return sc.console.store.Snapshot()
}

func (app *Application) guardOptions() guard.Options {
	return guard.Options{
		LoginPath:               "/login",
		FallbackPath:            "/dashboard",
		ShowUnauthorizedMessage: app.cfg.ShowUnauthorizedMessage,
		Renderer:                guardRenderer{app},
		Logger:                  app.log,
	}
}

// authProtected is chi middleware for routes that need a signed-in user.
func (app *Application) authProtected(next http.Handler) http.Handler {
	return guard.RequireAuth(app, app.guardOptions())(next)
}

// adminProtected is chi middleware for the admin console.
func (app *Application) adminProtected(next http.Handler) http.Handler {
	return guard.RequireAdmin(app, app.guardOptions())(next)
}

type guardRenderer struct{ app *Application }

func (g guardRenderer) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	g.app.render(w, r, "loading", g.app.commonPageData(r), http.StatusOK)
}

func (g guardRenderer) AccessDenied(w http.ResponseWriter, r *http.Request, back string) {
	pageData := g.app.commonPageData(r)
	pageData["Back"] = back
	g.app.render(w, r, "403", pageData, http.StatusForbidden)
}
