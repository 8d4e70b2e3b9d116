// Package main provides the entry point for the appointment monitor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/egorovli/appointment-monitor/internal/api/handlers"
	"github.com/egorovli/appointment-monitor/internal/backoff"
	"github.com/egorovli/appointment-monitor/internal/captcha"
	"github.com/egorovli/appointment-monitor/internal/config"
	"github.com/egorovli/appointment-monitor/internal/ekonsulat"
	"github.com/egorovli/appointment-monitor/internal/engine"
	"github.com/egorovli/appointment-monitor/internal/logging"
	"github.com/egorovli/appointment-monitor/internal/models"
	"github.com/egorovli/appointment-monitor/internal/solver"
	"github.com/egorovli/appointment-monitor/internal/version"
)

func main() {
	// Load configuration first (logging config comes from env)
	cfg := config.Load()

	logger := logging.SetDefault()

	logger.Info("starting appointment monitor",
		"version", version.Get().Version,
		"base_url", cfg.BaseURL,
		"location_id", cfg.LocationID,
		"party_size", cfg.PartySize,
	)

	if cfg.LocationID == "" {
		logger.Error("LOCATION_ID is required")
		os.Exit(1)
	}
	if cfg.TwoCaptchaAPIKey == "" {
		logger.Error("TWOCAPTCHA_API_KEY is required (no CAPTCHA solver configured)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := ekonsulat.NewClient(ekonsulat.ClientConfig{
		BaseURL:   cfg.BaseURL,
		WebOrigin: cfg.WebOrigin,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTPTimeout,
		Logger:    logger,
	})

	logger.Info("2Captcha solver enabled")
	pipeline := captcha.New(captcha.Config{
		Client: client,
		Solver: solver.NewTwoCaptcha(cfg.TwoCaptchaAPIKey),
		Width:  cfg.CaptchaWidth,
		Height: cfg.CaptchaHeight,
		Logger: logger,
	})

	eng := engine.New(engine.Config{
		Client:   client,
		Pipeline: pipeline,
		Policy: backoff.Policy{
			Base:          cfg.BaseDelay,
			Jitter:        cfg.Jitter,
			SoftLimitBase: cfg.SoftLimitBase,
			CaptchaBase:   cfg.CaptchaBase,
			CaptchaMax:    cfg.CaptchaMax,
			CaptchaMult:   cfg.CaptchaMult,
			SlotSwitch:    cfg.SlotSwitchDelay,
			Retry:         cfg.RetryDelay,
		},
		EmptyPollDelay: cfg.EmptyPollDelay,
		Logger:         logger,
	})

	err := eng.Configure(models.SearchParams{
		LocationID:    cfg.LocationID,
		PartySize:     cfg.PartySize,
		CountryName:   cfg.CountryName,
		ConsulateName: cfg.ConsulateName,
		ServiceName:   cfg.ServiceName,
	})
	if err != nil {
		logger.Error("invalid search parameters", "error", err)
		os.Exit(1)
	}

	var srv *http.Server
	if cfg.StatusEnabled {
		srv = statusServer(cfg, eng)
		go func() {
			logger.Info("status server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}

	// Run until the engine finishes or the operator interrupts.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("interrupt received, stopping")
		eng.Stop()
	case <-eng.Done():
	}

	snap := eng.Snapshot()
	if snap.Phase == engine.PhaseSuccess && snap.Reservation.Result != nil {
		ticket := snap.Reservation.Result.PrimaryTicket
		logger.Info("reservation held",
			"ticket_id", ticket.TicketID,
			"date", ticket.Date,
			"time", ticket.Time,
			"consulate", detailName(snap),
			"search_attempts", snap.Search.Attempts,
			"reservation_attempts", snap.Reservation.Attempts,
		)
	} else {
		logger.Warn("terminated without a reservation",
			"phase", snap.Phase,
			"search_attempts", snap.Search.Attempts,
			"reservation_attempts", snap.Reservation.Attempts,
			"search_errors", len(snap.Search.Errors),
			"reservation_errors", len(snap.Reservation.Errors),
		)
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func detailName(snap engine.Snapshot) string {
	if snap.Details == nil {
		return ""
	}
	return snap.Details.ConsulateName
}

// statusServer builds the loopback read-only status surface for UI
// collaborators.
func statusServer(cfg *config.Config, eng *engine.Engine) *http.Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	humaConfig := huma.DefaultConfig("Appointment Monitor", version.Get().Version)
	humaConfig.Info.Description = "Read-only status surface for the appointment monitor engine"
	api := humachi.New(r, humaConfig)

	statusHandler := handlers.NewStatusHandler(eng)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns process health and the engine phase",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*handlers.HealthOutput, error) {
		resp := statusHandler.Health(ctx)
		return &handlers.HealthOutput{Body: *resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/v1/status",
		Summary:     "Engine status",
		Description: "Returns the current engine snapshot",
		Tags:        []string{"Status"},
	}, func(ctx context.Context, input *struct{}) (*handlers.StatusOutput, error) {
		return &handlers.StatusOutput{Body: statusHandler.Status(ctx)}, nil
	})

	return &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.StatusPort),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
