package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"panel/internal/apiclient"
	"panel/internal/authstate"
	"panel/internal/guard"
	"panel/internal/model"
)

// commonPageData returns a map of strings to datum. The strings will match any
// information required by templates through "dot".
func (app *Application) commonPageData(r *http.Request) map[string]any {
	pageData := map[string]any{
		"Path":       r.URL.Path,
		"Servertime": time.Now().Format(time.RFC3339),
	}

	sc := scopeFrom(r)
	if sc == nil {
		return pageData
	}

	st := sc.console.store.Snapshot()
	pageData["LoggedIn"] = st.IsAuthenticated
	pageData["IsAdmin"] = authstate.IsAdmin(st)
	pageData["User"] = st.User
	if flash := app.sessionManager.PopString(r.Context(), keyFlash); flash != "" {
		pageData["Flash"] = flash
	}
	return pageData
}

func (app *Application) flash(r *http.Request, msg string) {
	app.sessionManager.Put(r.Context(), keyFlash, msg)
}

func (app *Application) client(r *http.Request) *apiclient.Client {
	return scopeFrom(r).console.client
}

func (app *Application) store(r *http.Request) *authstate.Store {
	return scopeFrom(r).console.store
}

// home renders the landing page.
func (app *Application) home(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, "home", app.commonPageData(r), http.StatusOK)
}

// pricing lists the public plans.
func (app *Application) pricing(w http.ResponseWriter, r *http.Request) {
	plans, err := app.client(r).Plans(r.Context())
	if err != nil {
		app.apiError(w, r, err)
		return
	}

	active := plans[:0]
	for _, p := range plans {
		if p.IsActive {
			active = append(active, p)
		}
	}

	pageData := app.commonPageData(r)
	pageData["Plans"] = active
	app.render(w, r, "pricing", pageData, http.StatusOK)
}

// loginForm renders the login screen. The cosmetic variants share the
// handler and differ only in layout.
func (app *Application) loginForm(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from := guard.SafeReturnPath(r.URL.Query().Get("from"), "/dashboard")
		if app.store(r).Snapshot().IsAuthenticated {
			app.redirect(w, r, from)
			return
		}

		pageData := app.commonPageData(r)
		pageData["Variant"] = variant
		pageData["From"] = from
		app.render(w, r, "login", pageData, http.StatusOK)
	}
}

// login signs the session in and returns the user to where they were going.
func (app *Application) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	from := guard.SafeReturnPath(r.PostFormValue("from"), "/dashboard")

	user, err := app.client(r).Login(r.Context(), email, password)
	if err != nil {
		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) {
			app.apiError(w, r, err)
			return
		}
		if apiErr.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(apiErr.Message), "verif") {
			app.sessionManager.Put(r.Context(), "pending_email", email)
			app.redirect(w, r, "/verification-pending")
			return
		}

		pageData := app.commonPageData(r)
		pageData["Variant"] = r.PostFormValue("variant")
		pageData["From"] = from
		pageData["Email"] = email
		pageData["Error"] = apiclient.Message(err)
		app.render(w, r, "login", pageData, http.StatusUnauthorized)
		return
	}

	// New privilege level, new session token.
	if err := app.sessionManager.RenewToken(r.Context()); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.store(r).SetUser(user)
	app.log.Info("auth.login", "user_id", user.ID, "role", user.Role)

	app.redirect(w, r, from)
}

// logout ends the backend session and removes our session data.
func (app *Application) logout(w http.ResponseWriter, r *http.Request) {
	sc := scopeFrom(r)
	if err := sc.console.client.Logout(r.Context()); err != nil {
		app.log.Warn("auth.logout.backend", "err", err)
	}
	sc.console.store.Clear()
	app.consoles.remove(sc.id)

	_ = app.sessionManager.Destroy(r.Context())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (app *Application) registerForm(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, "register", app.commonPageData(r), http.StatusOK)
}

func (app *Application) register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	in := apiclient.RegisterRequest{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Password: r.PostFormValue("password"),
	}

	problem := ""
	switch {
	case in.Email == "" || in.Username == "":
		problem = "Email and username are required."
	case len(in.Password) < 8:
		problem = "Password must be at least 8 characters."
	case in.Password != r.PostFormValue("confirm"):
		problem = "Passwords do not match."
	}

	if problem == "" {
		err := app.client(r).Register(r.Context(), in)
		if err == nil {
			app.sessionManager.Put(r.Context(), "pending_email", in.Email)
			app.redirect(w, r, "/verification-pending")
			return
		}
		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) {
			app.apiError(w, r, err)
			return
		}
		problem = apiclient.Message(err)
	}

	pageData := app.commonPageData(r)
	pageData["Email"] = in.Email
	pageData["Username"] = in.Username
	pageData["Error"] = problem
	app.render(w, r, "register", pageData, http.StatusUnprocessableEntity)
}

func (app *Application) verificationPending(w http.ResponseWriter, r *http.Request) {
	pageData := app.commonPageData(r)
	pageData["Email"] = app.sessionManager.GetString(r.Context(), "pending_email")
	app.render(w, r, "verification-pending", pageData, http.StatusOK)
}

func (app *Application) resendVerification(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))
	if email == "" {
		email = app.sessionManager.GetString(r.Context(), "pending_email")
	}
	if err := app.client(r).ResendVerification(r.Context(), email); err != nil {
		app.flash(r, apiclient.Message(err))
	} else {
		app.flash(r, "Verification email sent.")
	}
	app.redirect(w, r, "/verification-pending")
}

func (app *Application) verifyEmail(w http.ResponseWriter, r *http.Request) {
	pageData := app.commonPageData(r)

	token := r.URL.Query().Get("token")
	if token == "" {
		pageData["Error"] = "The verification link is incomplete."
	} else if err := app.client(r).VerifyEmail(r.Context(), token); err != nil {
		pageData["Error"] = apiclient.Message(err)
	} else {
		pageData["Verified"] = true
	}
	app.render(w, r, "verify-email", pageData, http.StatusOK)
}

func (app *Application) forgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, "forgot-password", app.commonPageData(r), http.StatusOK)
}

func (app *Application) forgotPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.FormValue("email"))

	// The same answer whether or not the address exists.
	if err := app.client(r).RequestPasswordReset(r.Context(), email); err != nil {
		app.log.Info("auth.reset.request", "err", err)
	}

	pageData := app.commonPageData(r)
	pageData["Sent"] = true
	app.render(w, r, "forgot-password", pageData, http.StatusOK)
}

func (app *Application) resetPasswordForm(w http.ResponseWriter, r *http.Request) {
	pageData := app.commonPageData(r)
	pageData["Token"] = r.URL.Query().Get("token")
	app.render(w, r, "reset-password", pageData, http.StatusOK)
}

func (app *Application) resetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	password := r.FormValue("password")

	pageData := app.commonPageData(r)
	pageData["Token"] = token

	switch {
	case len(password) < 8:
		pageData["Error"] = "Password must be at least 8 characters."
	case password != r.FormValue("confirm"):
		pageData["Error"] = "Passwords do not match."
	default:
		if err := app.client(r).ConfirmPasswordReset(r.Context(), token, password); err != nil {
			pageData["Error"] = apiclient.Message(err)
			break
		}
		app.flash(r, "Your password has been reset. Please sign in.")
		app.redirect(w, r, "/login")
		return
	}
	app.render(w, r, "reset-password", pageData, http.StatusUnprocessableEntity)
}

// dashboard shows the user's subscription and nodes.
func (app *Application) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := app.client(r)

	sub, err := c.Subscription(ctx)
	if err != nil {
		app.apiError(w, r, err)
		return
	}
	nodes, err := c.Nodes(ctx)
	if err != nil {
		app.apiError(w, r, err)
		return
	}

	online := 0
	for _, n := range nodes {
		if n.IsOnline {
			online++
		}
	}

	pageData := app.commonPageData(r)
	pageData["Subscription"] = sub
	pageData["Nodes"] = nodes
	pageData["Online"] = online
	app.render(w, r, "dashboard", pageData, http.StatusOK)
}

func (app *Application) profile(w http.ResponseWriter, r *http.Request) {
	app.render(w, r, "profile", app.commonPageData(r), http.StatusOK)
}

func (app *Application) updateProfile(w http.ResponseWriter, r *http.Request) {
	in := apiclient.ProfileUpdate{
		Username: strings.TrimSpace(r.FormValue("username")),
		Email:    strings.TrimSpace(r.FormValue("email")),
	}

	user, err := app.client(r).UpdateProfile(r.Context(), in)
	if err != nil {
		app.apiError(w, r, err)
		return
	}
	app.store(r).SetUser(user)
	app.flash(r, "Profile updated.")
	app.redirect(w, r, "/profile")
}

func (app *Application) changePassword(w http.ResponseWriter, r *http.Request) {
	current, next := r.FormValue("current"), r.FormValue("password")

	switch {
	case len(next) < 8:
		app.flash(r, "Password must be at least 8 characters.")
	case next != r.FormValue("confirm"):
		app.flash(r, "Passwords do not match.")
	default:
		err := app.client(r).ChangePassword(r.Context(), current, next)
		var apiErr *apiclient.Error
		switch {
		case err == nil:
			app.flash(r, "Password changed.")
		case errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusUnauthorized:
			app.flash(r, apiclient.Message(err))
		default:
			app.apiError(w, r, err)
			return
		}
	}
	app.redirect(w, r, "/profile")
}

func (app *Application) notifications(w http.ResponseWriter, r *http.Request) {
	settings, err := app.client(r).NotificationSettings(r.Context())
	if err != nil {
		app.apiError(w, r, err)
		return
	}

	pageData := app.commonPageData(r)
	pageData["Settings"] = settings
	app.render(w, r, "notifications", pageData, http.StatusOK)
}

func (app *Application) updateNotifications(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	checked := func(k string) bool { return r.PostFormValue(k) == "on" }
	number := func(k string, def int) int {
		n, err := strconv.Atoi(r.PostFormValue(k))
		if err != nil || n < 0 {
			return def
		}
		return n
	}

	in := model.NotificationSettings{
		EmailEnabled:      checked("emailEnabled"),
		TelegramEnabled:   checked("telegramEnabled"),
		TelegramChatID:    strings.TrimSpace(r.PostFormValue("telegramChatId")),
		NotifyExpiry:      checked("notifyExpiry"),
		NotifyTraffic:     checked("notifyTraffic"),
		TrafficThreshold:  number("trafficThreshold", 80),
		ExpiryReminderDay: number("expiryReminderDay", 3),
	}
	if in.TrafficThreshold > 100 {
		in.TrafficThreshold = 100
	}

	if _, err := app.client(r).UpdateNotificationSettings(r.Context(), in); err != nil {
		app.apiError(w, r, err)
		return
	}
	app.flash(r, "Notification settings saved.")
	app.redirect(w, r, "/notifications")
}

func (app *Application) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
