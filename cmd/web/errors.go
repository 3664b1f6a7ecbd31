package main

import (
	"errors"
	"net/http"
	"runtime/debug"

	"panel/internal/apiclient"
	"panel/internal/guard"
)

func (app *Application) reportServerError(r *http.Request, err error) {
	app.log.Error("server error",
		"err", err,
		"method", r.Method,
		"url", r.URL.String(),
		"trace", string(debug.Stack()),
	)
}

func (app *Application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	app.reportServerError(r, err)
	app.render(w, r, "500", nil, http.StatusInternalServerError)
}

// apiError handles a failed backend call made while serving r. A session
// that could not be renewed is sent to the login screen; anything else is
// shown to the user.
func (app *Application) apiError(w http.ResponseWriter, r *http.Request, err error) {
	sc := scopeFrom(r)

	if sc != nil {
		target := sc.nav.Target()
		// A request that shared someone else's failed renewal was not
		// navigated itself.
		if target == "" && errors.Is(err, apiclient.ErrRenewalFailed) && !apiclient.IsPublicPath(r.URL.Path) {
			sc.console.store.Clear()
			target = apiclient.LoginPath
		}
		if target != "" {
			app.redirect(w, r, guard.LoginURL(target, guard.ReturnTarget(r)))
			return
		}
	}

	status := http.StatusBadGateway
	var apiErr *apiclient.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		status = apiErr.StatusCode
	case errors.As(err, &apiErr):
		app.log.Warn("backend.error", "status", apiErr.StatusCode, "path", r.URL.Path, "err", err)
	default:
		app.log.Warn("backend.unreachable", "path", r.URL.Path, "err", err)
	}

	pageData := app.commonPageData(r)
	pageData["Message"] = apiclient.Message(err)
	app.render(w, r, "error", pageData, status)
}

// notFound renders a 404 page, and sends a 404 status code.
func (app *Application) notFound(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, "404", app.commonPageData(r), http.StatusNotFound)
}
