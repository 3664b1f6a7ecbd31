package main

import (
	"database/sql"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"panel/internal/apiclient"
	"panel/internal/config"
)

type Application struct {
	cfg            config.Config
	log            *slog.Logger
	templates      *template.Template
	sessionManager *scs.SessionManager
	consoles       *registry
	apiBase        *url.URL
	apiMetrics     *apiclient.Metrics
	httpClient     *http.Client
	tracer         trace.TracerProvider
	db             *sql.DB
	sessionStore   *sqlite3store.SQLite3Store
}

// New wires the console. reg receives the API client metrics and tp, when
// not nil, its spans.
func New(cfg config.Config, log *slog.Logger, reg prometheus.Registerer, tp trace.TracerProvider) (*Application, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	apiBase, err := cfg.APIBase()
	if err != nil {
		return nil, err
	}

	app := &Application{
		cfg:        cfg,
		log:        log,
		templates:  templates,
		consoles:   newRegistry(),
		apiBase:    apiBase,
		apiMetrics: apiclient.NewMetrics(reg),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		tracer:     tp,
	}

	// Session management using scs:
	// https://pkg.go.dev/github.com/alexedwards/scs/v2
	app.sessionManager = scs.New()
	app.sessionManager.Lifetime = cfg.SessionLifetime
	app.sessionManager.Cookie.Name = "panel_session"
	app.sessionManager.Cookie.HttpOnly = true
	app.sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	app.sessionManager.Cookie.Secure = cfg.SecureCookies
	app.sessionManager.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		app.serverError(w, r, fmt.Errorf("session: %w", err))
	}

	if cfg.SessionDB != "" {
		db, store, err := openSessionStore(cfg.SessionDB)
		if err != nil {
			return nil, err
		}
		app.db = db
		app.sessionStore = store
		app.sessionManager.Store = store
	}

	return app, nil
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expiry REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`

// openSessionStore keeps console sessions in a sqlite file so that users
// stay signed in across restarts.
func openSessionStore(path string) (*sql.DB, *sqlite3store.SQLite3Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create session table: %w", err)
	}
	return db, sqlite3store.NewWithCleanupInterval(db, 10*time.Minute), nil
}

// newClient builds the backend client for one console session.
func (app *Application) newClient() (*apiclient.Client, error) {
	return apiclient.New(apiclient.Options{
		BaseURL:             app.apiBase,
		HTTPClient:          app.httpClient,
		Cooldown:            app.cfg.RenewalCooldown,
		ReplayFailedRenewal: app.cfg.ReplayFailedRenewal,
		Logger:              app.log,
		Metrics:             app.apiMetrics,
		TracerProvider:      app.tracer,
	})
}

// Close stops the session store cleanup and releases its database, if any.
func (app *Application) Close() error {
	if app.sessionStore != nil {
		app.sessionStore.StopCleanup()
		app.sessionStore = nil
	}
	if app.db == nil {
		return nil
	}
	err := app.db.Close()
	app.db = nil
	return err
}
