package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"panel/internal/apiclient"
)

// adminLoaders fetch one admin collection each.
var adminLoaders = map[apiclient.Resource]func(context.Context, *apiclient.Client) (any, error){
	apiclient.Users: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminUsers(ctx)
	},
	apiclient.Nodes: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminNodes(ctx)
	},
	apiclient.NodeGroups: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminNodeGroups(ctx)
	},
	apiclient.Plans: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminPlans(ctx)
	},
	apiclient.ForwardRules: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminForwardRules(ctx)
	},
	apiclient.ForwardAgents: func(ctx context.Context, c *apiclient.Client) (any, error) {
		return c.AdminForwardAgents(ctx)
	},
}

func (app *Application) adminIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/admin/"+string(apiclient.Users), http.StatusSeeOther)
}

// adminList renders one admin collection.
func (app *Application) adminList(w http.ResponseWriter, r *http.Request) {
	res, ok := apiclient.ParseResource(chi.URLParam(r, "resource"))
	if !ok {
		app.notFound(w, r)
		return
	}

	ctx := r.Context()
	c := app.client(r)

	items, err := adminLoaders[res](ctx, c)
	if err != nil {
		app.apiError(w, r, err)
		return
	}

	pageData := app.commonPageData(r)
	pageData["Resources"] = apiclient.Resources
	pageData["Resource"] = res
	pageData["Items"] = items

	if res == apiclient.ForwardAgents {
		status, err := c.ForwardAgentStatus(ctx)
		if err != nil {
			// The list is still useful without live status.
			app.log.Warn("admin.agent_status", "err", err)
		}
		pageData["Status"] = status
	}

	app.render(w, r, "admin", pageData, http.StatusOK)
}

func (app *Application) adminDelete(w http.ResponseWriter, r *http.Request) {
	res, ok := apiclient.ParseResource(chi.URLParam(r, "resource"))
	if !ok {
		app.notFound(w, r)
		return
	}

	err := app.client(r).Delete(r.Context(), res, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		app.flash(r, "Deleted.")
	case apiclient.IsNotFound(err):
		app.flash(r, "Already gone.")
	default:
		app.apiError(w, r, err)
		return
	}
	app.redirect(w, r, "/admin/"+string(res))
}

func (app *Application) adminSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		app.notFound(w, r)
		return
	}

	active := r.FormValue("active") == "true"
	if err := app.client(r).SetUserActive(r.Context(), id, active); err != nil {
		app.apiError(w, r, err)
		return
	}
	if active {
		app.flash(r, "User enabled.")
	} else {
		app.flash(r, "User disabled.")
	}
	app.redirect(w, r, "/admin/"+string(apiclient.Users))
}
