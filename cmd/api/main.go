package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sirbramstech/campus-backend/api/routes"
	"github.com/sirbramstech/campus-backend/internal/correlation"
	course "github.com/sirbramstech/campus-backend/internal/courses"
	enrollment "github.com/sirbramstech/campus-backend/internal/enrollments"
	notification "github.com/sirbramstech/campus-backend/internal/notifications"
	payment "github.com/sirbramstech/campus-backend/internal/payments"
	student "github.com/sirbramstech/campus-backend/internal/students"
	mpesawebhook "github.com/sirbramstech/campus-backend/internal/webhooks/mpesa"
	"github.com/sirbramstech/campus-backend/pkg/config"
	"github.com/sirbramstech/campus-backend/pkg/db"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/mailer"
	"github.com/sirbramstech/campus-backend/pkg/metrics"
	"github.com/sirbramstech/campus-backend/pkg/migrate"
	"github.com/sirbramstech/campus-backend/pkg/mpesa"
	"github.com/sirbramstech/campus-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mpesaClient, err := mpesa.NewClient(context.Background(), cfg.Mpesa, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	mailClient, err := mailer.NewClient(cfg.SMTP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	studentRepo := student.NewRepository(dbClient.DB())
	courseRepo := course.NewRepository(dbClient.DB())
	enrollmentRepo := enrollment.NewRepository(dbClient.DB())

	outcomeStore, err := correlation.NewStore(redisClient, cfg.Payments.CorrelationTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create outcome store", err)
		os.Exit(1)
	}

	sessionStore, err := payment.NewSessionStore(redisClient, cfg.Payments.SessionTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create session store", err)
		os.Exit(1)
	}

	notifier, err := notification.NewService(mailClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	paymentService, err := payment.NewService(payment.ServiceParams{
		Gateway:     mpesaClient,
		Enrollments: enrollmentRepo,
		Students:    studentRepo,
		Courses:     courseRepo,
		Outcomes:    outcomeStore,
		Sessions:    sessionStore,
		Metrics:     paymentMetrics,
		Mpesa:       cfg.Mpesa,
		Payments:    cfg.Payments,
		// Timer-based auto-success is a local testing convenience only.
		AllowGraceFallback: !cfg.App.IsProd(),
		Logger:             logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	enrollmentService, err := enrollment.NewService(enrollmentRepo, studentRepo, notifier, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create enrollment service", err)
		os.Exit(1)
	}

	webhookService, err := mpesawebhook.NewService(mpesawebhook.ServiceParams{
		Enrollments: enrollmentRepo,
		Outcomes:    outcomeStore,
		Sessions:    sessionStore,
		Students:    studentRepo,
		Courses:     courseRepo,
		Notifier:    notifier,
		Idempotency: redisClient,
		Metrics:     paymentMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			paymentService,
			enrollmentService,
			webhookService,
		),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		ctx = logg.WithField(ctx, "signal", sig.String())
		logg.Info(ctx, "shutting down api server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}
