// Package app wires the card-key trust engine into a runnable licensed
// service: configuration, logging, metrics, the license session and the
// HTTP control surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"cardkeyd/internal/config"
	"cardkeyd/internal/hwid"
	"cardkeyd/internal/infrastructure"
	"cardkeyd/internal/license"
	custommw "cardkeyd/internal/middleware"
	transporthttp "cardkeyd/internal/transport/http"
)

// Version is stamped at build time.
var Version = "dev"

// Application is the assembled service.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	OTel    *infrastructure.OTelProviders
	Session *license.Session
	Router  chi.Router
	Server  *http.Server

	trustLostOnce sync.Once
	trustLostCh   chan struct{}
}

// New builds the application from the given config file path ("" for
// env-only configuration).
func New(configFile string) (*Application, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel("cardkeyd", Version)
	if err != nil {
		return nil, fmt.Errorf("initialize otel: %w", err)
	}

	metrics, err := license.NewMetrics(otelProviders.MeterProvider.Meter("cardkeyd/license"))
	if err != nil {
		return nil, fmt.Errorf("create license metrics: %w", err)
	}

	hardwareID := hwid.Generate(hwid.NewSystemProbe())
	logger.Info("hardware fingerprint generated",
		slog.String("fingerprint", license.MaskKey(hardwareID)))

	store, err := license.NewStore(
		cfg.License.CacheFile,
		cfg.License.LegacyCacheFile,
		license.DeriveTrustKey(hardwareID),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("create trust store: %w", err)
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.License.VerifyRPS), cfg.License.VerifyBurst)
	client := license.NewClient(cfg.License.VerifyURL, cfg.License.RequestTimeout, limiter, logger, metrics)

	app := &Application{
		Config:      cfg,
		Logger:      logger,
		OTel:        otelProviders,
		trustLostCh: make(chan struct{}),
	}

	session, err := license.NewSession(license.SessionConfig{
		Store:       store,
		Client:      client,
		HardwareID:  hardwareID,
		Heartbeat:   cfg.License.HeartbeatInterval,
		Tick:        cfg.License.HeartbeatTick,
		StopTimeout: cfg.License.StopTimeout,
		OnTrustLost: app.handleTrustLost,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create license session: %w", err)
	}
	app.Session = session

	app.setupRouter()
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// handleTrustLost is the heartbeat failure callback. The engine never kills
// the process; the application's policy is to drain the HTTP server and let
// main exit.
func (a *Application) handleTrustLost(f license.TrustFailure) {
	a.Logger.Warn("license trust lost, shutting down service",
		slog.String("reason", f.Reason),
		slog.Time("at", f.At))
	a.trustLostOnce.Do(func() { close(a.trustLostCh) })
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.TraceID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	gate := custommw.NewLicenseGate(a.Session, a.Logger)
	r.Use(gate.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]interface{}{
			"status":  "ok",
			"version": Version,
		})
	})
	r.Method(http.MethodGet, "/metrics", a.OTel.MetricsHandler)

	licenseHandler := transporthttp.NewLicenseHandler(a.Session, a.Logger)
	r.Mount("/api/license", licenseHandler.Routes())

	// the gated product surface; everything here requires an active login
	r.Route("/api/product", func(r chi.Router) {
		r.Get("/entitlement", func(w http.ResponseWriter, req *http.Request) {
			render.JSON(w, req, a.Session.Entitlement())
		})
	})

	a.Router = r
}

// Run serves until the context is cancelled, the server fails, or license
// trust is lost, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown requested")
	case <-a.trustLostCh:
		runErr = fmt.Errorf("license trust lost")
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}

	if a.Session.IsLoggedIn() {
		if err := a.Session.Logout(); err != nil {
			a.Logger.Warn("logout during shutdown", slog.String("error", err.Error()))
		}
	}

	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("otel shutdown failed", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()

	return runErr
}
