package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"panel/internal/apiclient"
	"panel/internal/authstate"
)

// Session keys.
const (
	keySessionID  = "sid"
	keyCredential = "credential"
	keyFlash      = "flash"
)

// console is the live state of one browser session: its authentication
// store and the backend client holding its session cookies.
type console struct {
	store    *authstate.Store
	client   *apiclient.Client
	lastSeen atomic.Int64
}

func (c *console) touch(now time.Time) { c.lastSeen.Store(now.UnixNano()) }

// registry maps session ids to consoles.
type registry struct {
	mu sync.Mutex
	m  map[string]*console
}

func newRegistry() *registry {
	return &registry{m: map[string]*console{}}
}

func (g *registry) get(id string) (*console, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.m[id]
	return c, ok
}

// getOrCreate returns the console for id, calling create when there is
// none. created reports whether create ran.
func (g *registry) getOrCreate(id string, create func() (*console, error)) (c *console, created bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.m[id]; ok {
		return c, false, nil
	}
	c, err = create()
	if err != nil {
		return nil, false, err
	}
	g.m[id] = c
	return c, true, nil
}

func (g *registry) remove(id string) {
	g.mu.Lock()
	delete(g.m, id)
	g.mu.Unlock()
}

func (g *registry) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// sweep drops consoles idle for longer than maxIdle. A dropped console is
// rebuilt from the saved credential on its session's next request.
func (g *registry) sweep(now time.Time, maxIdle time.Duration) int {
	cutoff := now.Add(-maxIdle).UnixNano()

	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for id, c := range g.m {
		if c.lastSeen.Load() < cutoff {
			delete(g.m, id)
			n++
		}
	}
	return n
}

// requestNavigator is the screen of one console request. A forced
// navigation signs the console out and is honoured by apiError.
type requestNavigator struct {
	path  string
	store *authstate.Store

	mu     sync.Mutex
	target string
}

func (n *requestNavigator) CurrentPath() string { return n.path }

func (n *requestNavigator) Navigate(path string) {
	n.mu.Lock()
	n.target = path
	n.mu.Unlock()
	n.store.Clear()
}

func (n *requestNavigator) Target() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

type scopeKey struct{}

// scope is what bindConsole attaches to every request.
type scope struct {
	id      string
	console *console
	nav     *requestNavigator
}

func scopeFrom(r *http.Request) *scope {
	sc, _ := r.Context().Value(scopeKey{}).(*scope)
	return sc
}

// bindConsole attaches the session's console and a request navigator to
// the request. It must run inside the session manager's LoadAndSave.
func (app *Application) bindConsole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := app.sessionManager.GetString(ctx, keySessionID)
		if id == "" {
			id = uuid.NewString()
			app.sessionManager.Put(ctx, keySessionID, id)
		}

		con, created, err := app.consoles.getOrCreate(id, func() (*console, error) {
			return app.newConsole(ctx)
		})
		if err != nil {
			app.serverError(w, r, err)
			return
		}
		con.touch(time.Now())
		if created && con.store.Snapshot().IsLoading {
			go app.bootstrap(id, con)
		}

		nav := &requestNavigator{path: r.URL.Path, store: con.store}
		ctx = apiclient.WithNavigator(ctx, nav)
		ctx = context.WithValue(ctx, scopeKey{}, &scope{id: id, console: con, nav: nav})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newConsole builds a console for a session. A session that carries a
// saved credential starts loading until bootstrap has checked it.
func (app *Application) newConsole(ctx context.Context) (*console, error) {
	client, err := app.newClient()
	if err != nil {
		return nil, err
	}

	con := &console{client: client, store: authstate.NewStore(authstate.Anonymous())}

	if tok := app.loadCredential(ctx); tok != nil {
		client.SetCredential(tok)
		con.store.Set(authstate.Loading())
	}
	return con, nil
}

// bootstrap runs the initialization check for a rebuilt console.
func (app *Application) bootstrap(id string, con *console) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := con.store.Initialize(ctx, con.client.Me); err != nil {
		app.log.Info("console.bootstrap.signed_out", "session", id, "err", err)
		return
	}
	app.log.Info("console.bootstrap.signed_in", "session", id)
}

func (app *Application) loadCredential(ctx context.Context) *oauth2.Token {
	raw, ok := app.sessionManager.Get(ctx, keyCredential).([]byte)
	if !ok || len(raw) == 0 {
		return nil
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		app.log.Warn("console.credential.corrupt", "err", err)
		return nil
	}
	return &tok
}

// saveCredential mirrors the client's credential into the session. It runs
// before anything is written to the response, since scs commits then.
func (app *Application) saveCredential(r *http.Request) {
	sc := scopeFrom(r)
	if sc == nil {
		return
	}
	ctx := r.Context()

	tok := sc.console.client.Credential()
	if tok == nil {
		if app.sessionManager.Exists(ctx, keyCredential) {
			app.sessionManager.Remove(ctx, keyCredential)
		}
		return
	}

	// Storing the token structure itself does not survive the session
	// codec; store its JSON instead.
	raw, err := json.Marshal(tok)
	if err != nil {
		app.log.Warn("console.credential.marshal", "err", err)
		return
	}
	if prev, ok := app.sessionManager.Get(ctx, keyCredential).([]byte); ok && string(prev) == string(raw) {
		return
	}
	app.sessionManager.Put(ctx, keyCredential, raw)
}

// runSweeper drops idle consoles until ctx is done.
func (app *Application) runSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := app.consoles.sweep(now, app.cfg.SessionIdleTimeout); n > 0 {
				app.log.Info("console.sweep", "dropped", n, "live", app.consoles.len())
			}
		}
	}
}
