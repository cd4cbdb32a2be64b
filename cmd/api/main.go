package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinvoy/clinic-ai-platform/internal/api/router"
	"github.com/clinvoy/clinic-ai-platform/internal/availability"
	"github.com/clinvoy/clinic-ai-platform/internal/bookings"
	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	appconfig "github.com/clinvoy/clinic-ai-platform/internal/config"
	"github.com/clinvoy/clinic-ai-platform/internal/conversation"
	"github.com/clinvoy/clinic-ai-platform/internal/dialogue"
	"github.com/clinvoy/clinic-ai-platform/internal/executor"
	"github.com/clinvoy/clinic-ai-platform/internal/guard"
	"github.com/clinvoy/clinic-ai-platform/internal/http/handlers"
	"github.com/clinvoy/clinic-ai-platform/internal/notify"
	"github.com/clinvoy/clinic-ai-platform/internal/observability/metrics"
	"github.com/clinvoy/clinic-ai-platform/internal/usage"
	"github.com/clinvoy/clinic-ai-platform/internal/webchat"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

func main() {
	// Load .env for local development; ignored when absent.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Redis holds clinic configs and usage counters.
	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	clinicStore := clinic.NewStore(rdb)
	counters := usage.NewCounters(rdb)

	// Postgres is the read-side of the appointment records.
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	bookingsRepo := bookings.NewRepository(pool)

	// The executor service owns all appointment writes.
	exec, err := executor.NewClient(executor.Config{
		BaseURL: cfg.ExecutorBaseURL,
		Timeout: cfg.ExecutorTimeout,
	})
	if err != nil {
		logger.Error("failed to create executor client", "error", err)
		os.Exit(1)
	}

	// Completion clients: OpenAI primary, Gemini fallback when configured.
	openaiClient, err := conversation.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	if err != nil {
		logger.Error("failed to create completion client", "error", err)
		os.Exit(1)
	}
	var completion conversation.CompletionClient = openaiClient
	if cfg.GeminiAPIKey != "" {
		geminiClient, err := conversation.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("gemini client unavailable, continuing without fallback", "error", err)
		} else {
			completion = conversation.NewFallbackClient(openaiClient, geminiClient, logger)
		}
	}

	// Owner notifications go out via SendGrid; a logging stub covers
	// environments without a key.
	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	} else {
		logger.Warn("sendgrid not configured, takeover alerts will only be logged")
		sender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(sender, logger)

	engineMetrics := metrics.NewEngineMetrics(nil)

	calc := availability.New(
		availability.WithHorizon(cfg.BookingHorizonDays),
		availability.WithMaxPerDay(cfg.MaxSlotsPerDay),
	)

	settings := conversation.DefaultSettings()
	settings.Guard = guard.Limits{
		MaxMessageChars: cfg.GuardMaxMessageChars,
		RepeatLimit:     cfg.GuardRepeatLimit,
		BlockScore:      cfg.GuardBlockScore,
	}
	settings.ModelTimeout = cfg.ModelTimeout
	settings.CompressAfterTurns = cfg.CompressAfterTurns
	settings.CompressKeepTurns = cfg.CompressKeepTurns
	settings.HorizonDays = cfg.BookingHorizonDays
	settings.DefaultPerSessionLimit = cfg.DefaultPerSessionLimit
	settings.DefaultPerDayLimit = cfg.DefaultPerDayLimit
	settings.SummarizeModel = cfg.SummarizeModel

	turns := conversation.NewService(conversation.Deps{
		Client:     completion,
		Executor:   exec,
		Clinics:    clinicStore,
		Counters:   counters,
		Bookings:   bookingsRepo,
		Calculator: calc,
		Notifier:   notifier,
		Metrics:    engineMetrics,
		Logger:     logger,
	}, settings)

	machine := dialogue.NewMachine(calc, bookingsRepo, exec, logger)
	chatHandlers := handlers.New(turns, machine, clinicStore, bookingsRepo, calc, cfg.WidgetSigningSecret, logger)
	webchatHandler := webchat.NewHandler(turns, cfg.WidgetSigningSecret, nil, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		ChatHandlers:       chatHandlers,
		WebchatHandler:     webchatHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // a turn can hold the connection for the full model budget
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
