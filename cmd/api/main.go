package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	// The clinic timezone must resolve on minimal images.
	_ "time/tzdata"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	"github.com/jwalitptl/clinic-booking/internal/config"
	appointmentHandler "github.com/jwalitptl/clinic-booking/internal/handler/appointment"
	availabilityHandler "github.com/jwalitptl/clinic-booking/internal/handler/availability"
	catalogHandler "github.com/jwalitptl/clinic-booking/internal/handler/catalog"
	"github.com/jwalitptl/clinic-booking/internal/handler/health"
	paymentHandler "github.com/jwalitptl/clinic-booking/internal/handler/payment"
	profileHandler "github.com/jwalitptl/clinic-booking/internal/handler/profile"
	promHandler "github.com/jwalitptl/clinic-booking/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-booking/internal/middleware"
	"github.com/jwalitptl/clinic-booking/internal/payment/stripe"
	"github.com/jwalitptl/clinic-booking/internal/repository/postgres"
	"github.com/jwalitptl/clinic-booking/internal/router"
	appointmentService "github.com/jwalitptl/clinic-booking/internal/service/appointment"
	availabilityService "github.com/jwalitptl/clinic-booking/internal/service/availability"
	catalogService "github.com/jwalitptl/clinic-booking/internal/service/catalog"
	eventService "github.com/jwalitptl/clinic-booking/internal/service/event"
	paymentService "github.com/jwalitptl/clinic-booking/internal/service/payment"
	profileService "github.com/jwalitptl/clinic-booking/internal/service/profile"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
	"github.com/jwalitptl/clinic-booking/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Logging.Level),
		Console: cfg.Logging.Console,
	})
	log.Logger = appLogger.Zerolog()
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Logging.Level))

	loc, err := cfg.Clinic.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Clinic.Timezone).Msg("invalid clinic timezone")
	}

	if err := validator.Register(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validators")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := postgres.CheckSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("database schema check failed")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics("clinic", "api", registry)

	// Repositories
	appointmentRepo := postgres.NewAppointmentRepository(db)
	serviceRepo := postgres.NewServiceRepository(db)
	profileRepo := postgres.NewProfileRepository(db)
	availabilityRepo := postgres.NewAvailabilityRepository(db)
	webhookRepo := postgres.NewWebhookEventRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	events := eventService.NewEventService(outboxRepo, appLogger)
	appointmentSvc := appointmentService.NewService(
		appointmentRepo,
		serviceRepo,
		profileRepo,
		availabilityService.NewChecker(appointmentRepo),
		events,
		appMetrics,
		loc,
	)
	catalogSvc := catalogService.NewService(serviceRepo, appointmentRepo)
	availabilitySvc := availabilityService.NewService(availabilityRepo, profileRepo)
	profileSvc := profileService.NewService(profileRepo)

	gateway := stripe.NewGateway(stripe.Config{
		SecretKey:        cfg.Stripe.SecretKey,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		WebhookTolerance: cfg.Stripe.WebhookTolerance,
	}, appLogger)
	paymentSvc := paymentService.NewService(
		appointmentRepo,
		serviceRepo,
		profileRepo,
		webhookRepo,
		gateway,
		events,
		appMetrics,
		appLogger,
		paymentService.Config{
			Currency:          cfg.Stripe.Currency,
			AppURL:            cfg.Stripe.AppURL,
			DefaultReturnPath: cfg.Stripe.DefaultReturnPath,
			CancelPath:        cfg.Stripe.CancelPath,
			Location:          loc,
			Refund: paymentService.RefundPolicy{
				FullRefundHours:    cfg.Refund.FullRefundHours,
				PartialRefundHours: cfg.Refund.PartialRefundHours,
				PartialPercentage:  int(math.Round(cfg.Refund.PartialRefundPercentage * 100)),
			},
		},
	)

	// HTTP
	policy := authz.NewPolicy(profileRepo, cfg.Auth.ProfileCacheTTL)
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	}, policy)

	healthHandler := health.NewHandler(map[string]health.Check{
		"database": db.PingContext,
		"schema": func(ctx context.Context) error {
			return postgres.CheckSchema(ctx, db)
		},
	})

	routerConfig := router.RouterConfig{
		Mode:           cfg.Server.Mode,
		CORSConfig:     middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
		Security:       middleware.DefaultSecurityConfig(),
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = &middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		}
	}

	r := router.NewRouter(
		authMiddleware,
		healthHandler,
		promHandler.New(registry),
		routerConfig,
		appointmentHandler.NewHandler(appointmentSvc),
		catalogHandler.NewHandler(catalogSvc),
		availabilityHandler.NewHandler(availabilitySvc),
		profileHandler.NewHandler(profileSvc, policy),
		paymentHandler.NewHandler(paymentSvc, appLogger),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("timezone", loc.String()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}
