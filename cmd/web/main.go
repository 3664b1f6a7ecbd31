package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"panel/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(os.Stdout, cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tp, err := newTracerProvider(cfg.TraceExporter, os.Stdout)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error("tracer.shutdown.fail", "err", err)
		}
	}()

	app, err := New(cfg, log, reg, tp)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.runSweeper(ctx, time.Minute)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("server.start", "addr", srv.Addr, "api_base", app.apiBase.String(), "trace_exporter", cfg.TraceExporter)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server.stop", "reason", "signal")
	case err := <-errCh:
		log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown.fail", "err", err)
		return err
	}
	log.Info("server.stopped")
	return nil
}

// routes builds the console router. metrics is served at /metrics.
func (app *Application) routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", app.healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(app.sessionManager.LoadAndSave)
		r.Use(app.bindConsole)

		// Public endpoints.
		r.Group(func(r chi.Router) {
			r.Get("/", app.home)
			r.Get("/pricing", app.pricing)

			r.Get("/login", app.loginForm(""))
			r.Get("/login/classic", app.loginForm("classic"))
			r.Get("/login/minimal", app.loginForm("minimal"))
			r.Post("/login", app.login)
			r.Post("/login/classic", app.login)
			r.Post("/login/minimal", app.login)
			r.Post("/logout", app.logout)

			r.Get("/register", app.registerForm)
			r.Post("/register", app.register)
			r.Get("/verification-pending", app.verificationPending)
			r.Get("/verify-email", app.verifyEmail)
			r.Post("/verify-email/resend", app.resendVerification)
			r.Get("/forgot-password", app.forgotPasswordForm)
			r.Post("/forgot-password", app.forgotPassword)
			r.Get("/reset-password", app.resetPasswordForm)
			r.Post("/reset-password", app.resetPassword)
		})

		// Signed-in endpoints.
		r.Group(func(r chi.Router) {
			r.Use(app.authProtected)
			r.Get("/dashboard", app.dashboard)
			r.Get("/profile", app.profile)
			r.Post("/profile", app.updateProfile)
			r.Post("/profile/password", app.changePassword)
			r.Get("/notifications", app.notifications)
			r.Post("/notifications", app.updateNotifications)
		})

		// Admin endpoints.
		r.Group(func(r chi.Router) {
			r.Use(app.adminProtected)
			r.Get("/admin", app.adminIndex)
			r.Get("/admin/{resource}", app.adminList)
			r.Post("/admin/{resource}/{id}/delete", app.adminDelete)
			r.Post("/admin/users/{id}/active", app.adminSetUserActive)
		})

		r.NotFound(app.notFound)
	})

	return r
}
