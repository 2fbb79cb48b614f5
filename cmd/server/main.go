/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the canteen billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Configure zerolog
  3. Initialize SQLite store
  4. Wire the WhatsApp gateway (nop when unconfigured)
  5. Create API handler, router, and consolidation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: billing.db)
              Use ":memory:" for in-memory database
  -scheduler  Enable automated consolidation (default: true)

ENVIRONMENT (flags win over env):
  PORT                  HTTP server port
  DATABASE_PATH         SQLite database path
  LOG_LEVEL             zerolog level (debug, info, warn, error)
  WHATSAPP_API_URL      Gateway base URL; empty disables sending
  WHATSAPP_API_KEY      Gateway api key
  WHATSAPP_INSTANCE     Gateway session name (default: cantina)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -scheduler=false

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/cantina/billing-engine/api"
	"github.com/cantina/billing-engine/billing"
	"github.com/cantina/billing-engine/notify"
	"github.com/cantina/billing-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env win.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "billing.db"), "SQLite database path")
	schedulerOn := flag.Bool("scheduler", true, "enable automated consolidation")
	flag.Parse()

	log := newLogger(envStr("LOG_LEVEL", "info"))

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	var notifier billing.Notifier = billing.NopNotifier{}
	if gatewayURL := os.Getenv("WHATSAPP_API_URL"); gatewayURL != "" {
		notifier = notify.NewWhatsappGateway(notify.Config{
			BaseURL:  gatewayURL,
			APIKey:   os.Getenv("WHATSAPP_API_KEY"),
			Instance: envStr("WHATSAPP_INSTANCE", "cantina"),
		}, log)
		log.Info().Str("gateway", gatewayURL).Msg("whatsapp gateway configured")
	} else {
		log.Info().Msg("no whatsapp gateway configured, invoice sending disabled")
	}

	handler := api.NewHandler(store, notifier, log)
	router := api.NewRouter(handler)

	scheduler := api.NewConsolidationScheduler(handler, log)
	scheduler.Enabled = *schedulerOn
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msgf("server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
