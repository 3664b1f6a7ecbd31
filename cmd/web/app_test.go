package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"panel/internal/config"
)

// fakeAPI is the REST backend the console talks to. Session endpoints
// accept only the current access cookie; /api/auth/refresh rotates it when
// refreshOK is set.
type fakeAPI struct {
	srv *httptest.Server

	mu     sync.Mutex
	access string
	role   string

	refreshOK   atomic.Bool
	refreshHits atomic.Int32
	deleted     atomic.Int32
	meGate      chan struct{}
}

func newFakeAPI(t *testing.T, opts ...func(*fakeAPI)) *fakeAPI {
	t.Helper()

	api := &fakeAPI{access: "a1", role: "user"}
	for _, o := range opts {
		o(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Invalid email or password"}`)
			return
		}
		api.mu.Lock()
		access := api.access
		api.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: access, Path: "/", MaxAge: 900})
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/", MaxAge: 86400})
		api.writeJSON(w, map[string]any{"user": api.user()})
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if api.meGate != nil {
			<-api.meGate
		}
		if !api.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.writeJSON(w, api.user())
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		api.refreshHits.Add(1)
		if !api.refreshOK.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.mu.Lock()
		access := api.access
		api.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: access, Path: "/", MaxAge: 900})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/user/subscription", func(w http.ResponseWriter, r *http.Request) {
		if !api.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.writeJSON(w, map[string]any{
			"id": 1, "plan_name": "Starter", "status": "active",
			"traffic_used_bytes": 512, "traffic_bytes": 1024,
		})
	})
	mux.HandleFunc("/api/user/nodes", func(w http.ResponseWriter, r *http.Request) {
		if !api.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.writeJSON(w, []map[string]any{
			{"id": 3, "name": "edge-fra", "is_online": true, "node_group_id": 2},
		})
	})

	mux.HandleFunc("/api/admin/", func(w http.ResponseWriter, r *http.Request) {
		if !api.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/admin/users":
			api.writeJSON(w, []map[string]any{api.user()})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/admin/plans/5":
			api.deleted.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Not found"}`)
		}
	})

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (api *fakeAPI) user() map[string]any {
	api.mu.Lock()
	defer api.mu.Unlock()
	return map[string]any{"id": 7, "email": "ann@example.com", "username": "ann", "role": api.role, "email_verified": true, "is_active": true}
}

func (api *fakeAPI) authorized(r *http.Request) bool {
	ck, err := r.Cookie("access_token")
	api.mu.Lock()
	defer api.mu.Unlock()
	return err == nil && ck.Value == api.access
}

// rotate expires every access cookie handed out so far.
func (api *fakeAPI) rotate(next string) {
	api.mu.Lock()
	api.access = next
	api.mu.Unlock()
}

func (api *fakeAPI) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type browser struct {
	t   *testing.T
	srv *httptest.Server
	hc  *http.Client
}

func newTestConsole(t *testing.T, api *fakeAPI, opts ...func(*config.Config)) (*Application, *browser) {
	t.Helper()

	cfg := config.Config{
		Port:                    8080,
		LogLevel:                "error",
		APIBaseURL:              "/api",
		BackendOrigin:           api.srv.URL,
		RequestTimeout:          5 * time.Second,
		RenewalCooldown:         5 * time.Second,
		SessionLifetime:         time.Hour,
		SessionIdleTimeout:      time.Hour,
		ShowUnauthorizedMessage: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := New(cfg, log, prometheus.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	srv := httptest.NewServer(app.routes(nil))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	hc := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return app, &browser{t: t, srv: srv, hc: hc}
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.hc.Get(b.srv.URL + path)
	if err != nil {
		b.t.Fatalf("GET %s: %v", path, err)
	}
	return b.read(resp)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.hc.PostForm(b.srv.URL+path, form)
	if err != nil {
		b.t.Fatalf("POST %s: %v", path, err)
	}
	return b.read(resp)
}

// submit posts form as if from a page at referer.
func (b *browser) submit(path, referer string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.srv.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		b.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", b.srv.URL+referer)
	resp, err := b.hc.Do(req)
	if err != nil {
		b.t.Fatalf("POST %s: %v", path, err)
	}
	return b.read(resp)
}

func (b *browser) read(resp *http.Response) (*http.Response, string) {
	b.t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatal(err)
	}
	return resp, string(body)
}

func (b *browser) login() {
	b.t.Helper()
	resp, _ := b.post("/login", url.Values{"email": {"ann@example.com"}, "password": {"secret"}, "from": {"/dashboard"}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/dashboard" {
		b.t.Fatalf("login: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func expectRedirect(t *testing.T, resp *http.Response, status int, location string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Fatalf("Location = %q, want %q", got, location)
	}
}

func TestLoginFlow(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)

	resp, _ := b.get("/dashboard")
	expectRedirect(t, resp, http.StatusFound, "/login?from=%2Fdashboard")

	resp, body := b.post("/login", url.Values{"email": {"ann@example.com"}, "password": {"wrong"}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Invalid email or password") {
		t.Fatalf("bad password page lacks the backend message:\n%s", body)
	}

	b.login()

	resp, body = b.get("/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: status %d\n%s", resp.StatusCode, body)
	}
	for _, want := range []string{"Starter", "edge-fra", "1 online"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard lacks %q", want)
		}
	}

	resp, _ = b.get("/login?from=%2Fprofile")
	expectRedirect(t, resp, http.StatusSeeOther, "/profile")
}

func TestLoginIgnoresForeignReturnPath(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)

	resp, _ := b.post("/login", url.Values{"email": {"ann@example.com"}, "password": {"secret"}, "from": {"//evil.example"}})
	expectRedirect(t, resp, http.StatusSeeOther, "/dashboard")
}

func TestExpiredSessionIsRenewed(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)
	b.login()

	api.rotate("a2")
	api.refreshOK.Store(true)

	resp, body := b.get("/dashboard")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: status %d\n%s", resp.StatusCode, body)
	}
	if got := api.refreshHits.Load(); got != 1 {
		t.Fatalf("refresh hits = %d, want 1", got)
	}
}

func TestFailedRenewalSignsOut(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)
	b.login()

	api.rotate("a2")

	resp, _ := b.get("/dashboard")
	expectRedirect(t, resp, http.StatusSeeOther, "/login?from=%2Fdashboard")

	// The console was signed out, so the guard handles the next visit.
	resp, _ = b.get("/profile")
	expectRedirect(t, resp, http.StatusFound, "/login?from=%2Fprofile")
}

func TestAdminGuard(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)

	resp, _ := b.get("/admin/users")
	expectRedirect(t, resp, http.StatusFound, "/login?from=%2Fadmin%2Fusers")

	b.login()

	resp, body := b.get("/admin/users")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if !strings.Contains(body, `href="/dashboard"`) {
		t.Fatalf("access denied page lacks the way back:\n%s", body)
	}
}

func TestConsoleRebuiltFromSavedCredential(t *testing.T) {
	gate := make(chan struct{})
	api := newFakeAPI(t, func(api *fakeAPI) { api.meGate = gate })
	app, b := newTestConsole(t, api)
	b.login()

	if n := app.consoles.sweep(time.Now().Add(time.Hour), time.Minute); n != 1 {
		t.Fatalf("swept %d consoles, want 1", n)
	}

	resp, body := b.get("/dashboard")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Checking your session") {
		t.Fatalf("want the loading placeholder, got %d\n%s", resp.StatusCode, body)
	}

	close(gate)

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body = b.get("/dashboard")
		if strings.Contains(body, "edge-fra") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("console never finished loading: %d\n%s", resp.StatusCode, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogout(t *testing.T) {
	api := newFakeAPI(t)
	app, b := newTestConsole(t, api)
	b.login()

	resp, _ := b.post("/logout", nil)
	expectRedirect(t, resp, http.StatusSeeOther, "/login")

	resp, _ = b.get("/dashboard")
	expectRedirect(t, resp, http.StatusFound, "/login?from=%2Fdashboard")

	if n := app.consoles.len(); n != 1 {
		t.Fatalf("live consoles = %d, want 1 (the new anonymous session)", n)
	}
}

func TestUnknownPath(t *testing.T) {
	api := newFakeAPI(t)
	_, b := newTestConsole(t, api)

	resp, body := b.get("/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(body, "/nope") {
		t.Fatalf("404 page lacks the path:\n%s", body)
	}
}

func TestAdminConsole(t *testing.T) {
	api := newFakeAPI(t, func(api *fakeAPI) { api.role = "admin" })
	_, b := newTestConsole(t, api)
	b.login()

	resp, _ := b.get("/admin")
	expectRedirect(t, resp, http.StatusSeeOther, "/admin/users")

	resp, body := b.get("/admin/users")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "ann@example.com") {
		t.Fatalf("users list: %d\n%s", resp.StatusCode, body)
	}

	resp, _ = b.get("/admin/widgets")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown collection: status %d, want 404", resp.StatusCode)
	}

	resp, _ = b.post("/admin/plans/5/delete", nil)
	expectRedirect(t, resp, http.StatusSeeOther, "/admin/plans")
	if api.deleted.Load() != 1 {
		t.Fatal("backend delete was not called")
	}

	// A missing item is reported, not treated as an error.
	resp, _ = b.post("/admin/plans/6/delete", nil)
	expectRedirect(t, resp, http.StatusSeeOther, "/admin/plans")
}

func TestFailedRenewalOnActionReturnsToReferringPage(t *testing.T) {
	api := newFakeAPI(t, func(api *fakeAPI) { api.role = "admin" })
	_, b := newTestConsole(t, api)
	b.login()

	api.rotate("a2")

	resp, _ := b.submit("/admin/plans/5/delete", "/admin/plans", url.Values{})
	expectRedirect(t, resp, http.StatusSeeOther, "/login?from=%2Fadmin%2Fplans")
	if api.deleted.Load() != 0 {
		t.Fatal("delete reached the backend without a session")
	}
}

func TestSessionsPersistInSQLite(t *testing.T) {
	api := newFakeAPI(t)
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	app, b := newTestConsole(t, api, func(cfg *config.Config) { cfg.SessionDB = dbPath })
	b.login()

	if app.sessionStore == nil {
		t.Fatal("sqlite session store not installed")
	}
	var n int
	if err := app.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if n == 0 {
		t.Fatal("no session row after login")
	}

	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if app.sessionStore != nil || app.db != nil {
		t.Fatal("Close left the session store open")
	}
	// The cleanup registered by newTestConsole closes again.
	if err := app.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
