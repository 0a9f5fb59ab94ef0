package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/davidrmellors/receipt-splitter/internal/auth"
	"github.com/davidrmellors/receipt-splitter/internal/config"
	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/gesture"
	"github.com/davidrmellors/receipt-splitter/internal/imagestore"
	"github.com/davidrmellors/receipt-splitter/internal/metrics"
	"github.com/davidrmellors/receipt-splitter/internal/middleware"
	"github.com/davidrmellors/receipt-splitter/internal/realtime"
	"github.com/davidrmellors/receipt-splitter/internal/receiptparser"
	"github.com/davidrmellors/receipt-splitter/internal/service"
	"github.com/davidrmellors/receipt-splitter/internal/storage/cache"
	"github.com/davidrmellors/receipt-splitter/internal/storage/sqlite"
	"github.com/davidrmellors/receipt-splitter/pkg/api/apiconnect"
	"github.com/davidrmellors/receipt-splitter/pkg/logging"
)

const (
	shutdownTimeout  = 10 * time.Second
	janitorInterval  = time.Minute
	limiterIdleAfter = 10 * time.Minute
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize SQLite storage
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer db.Close()
	logger.Info("Storage initialized", "database", cfg.DBPath)

	store := cache.NewCachedStore(db, cfg.ReceiptCacheSize, cfg.ReceiptCacheTTL)
	go store.Run(ctx, janitorInterval)

	var parser receiptparser.Parser = receiptparser.Disabled{}
	if cfg.ParsingEnabled() {
		gemini, err := receiptparser.NewGeminiParser(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("initialize receipt parser: %w", err)
		}
		parser = gemini
		logger.Info("Receipt parsing enabled", "model", cfg.GeminiModel)
	} else {
		logger.Warn("GEMINI_API_KEY not set, receipt parsing disabled")
	}

	var images imagestore.Store = imagestore.Discard{}
	if cfg.ImagesEnabled() {
		gcs, err := imagestore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return fmt.Errorf("initialize image store: %w", err)
		}
		defer gcs.Close()
		images = gcs
		logger.Info("Receipt images stored in GCS", "bucket", cfg.GCSBucket)
	}

	hub := realtime.NewHub(logger)
	publishers := events.Multi{hub}
	if cfg.EventsEnabled() {
		amqp, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("initialize event publisher: %w", err)
		}
		defer amqp.Close()
		publishers = append(publishers, amqp)
		logger.Info("Publishing events over AMQP", "exchange", cfg.AMQPExchange)
	}

	m := metrics.New()
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	authenticator := auth.NewPasswordAuthenticator(db)

	limiter := middleware.NewRateLimiter(cfg.ParseRatePerMinute)
	go func() {
		ticker := time.NewTicker(limiterIdleAfter)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Cleanup(limiterIdleAfter)
			case <-ctx.Done():
				return
			}
		}
	}()

	interceptors := connect.WithInterceptors(
		middleware.LoggingInterceptor(logger),
		middleware.MetricsInterceptor(m),
		middleware.RequireAuth(jwtManager,
			apiconnect.AuthServiceRegisterProcedure,
			apiconnect.AuthServiceLoginProcedure,
		),
		middleware.RateLimit(limiter, apiconnect.ReceiptServiceParseReceiptProcedure),
	)

	mux := http.NewServeMux()

	// Register Connect services
	mux.Handle(apiconnect.NewAuthServiceHandler(
		service.NewAuthService(authenticator, jwtManager, logger), interceptors))
	mux.Handle(apiconnect.NewGroupServiceHandler(
		service.NewGroupService(store, publishers, m), interceptors))
	mux.Handle(apiconnect.NewReceiptServiceHandler(
		service.NewReceiptService(store, service.ReceiptOptions{
			Parser:     parser,
			Images:     images,
			Publisher:  publishers,
			Classifier: gesture.NewClassifier(cfg.SwipeThreshold),
			Observer:   m,
		}), interceptors))

	mux.Handle("/ws", realtime.Handler(hub, middleware.GroupAuthorizer(jwtManager, db), originPatterns(cfg.AllowedOrigins)))
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Add logging and CORS middleware
	handler := loggingMiddleware(logger, corsMiddleware(cfg.AllowedOrigins, mux))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Connect server starting", "address", server.Addr, "url", "http://localhost"+server.Addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// originPatterns converts allowed origins into host patterns for the
// WebSocket origin check.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		patterns = append(patterns, o)
	}
	return patterns
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	wildcard := slices.Contains(allowed, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
