/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the travel request server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the SQLite store
  3. Build the engine (token service, policy, timeouts)
  4. Optionally seed the demo scenario into an empty database
  5. Configure the HTTP router and serve with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: travel.db, env DB_PATH)
           Use ":memory:" for in-memory database
  -seed    Seed the demo scenario when no users exist (env SEED_DEMO)

ENVIRONMENT:
  JWT_SECRET (required), TOKEN_TTL, STORE_TIMEOUT, ALLOWED_ORIGINS,
  CHECK_BALANCE_ON_SUBMIT, DEFAULT_LEAVES. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  JWT_SECRET=change-me-please-now ./server -db=":memory:" -seed

SEE ALSO:
  - api/server.go: Router configuration
  - travel/engine.go: Request lifecycle
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/travel-engine/api"
	"github.com/warp/travel-engine/auth"
	"github.com/warp/travel-engine/config"
	"github.com/warp/travel-engine/store/sqlite"
	"github.com/warp/travel-engine/travel"
)

func main() {
	logger := log.New(os.Stdout, "travel ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatalf("Failed to initialize tokens: %v", err)
	}

	engine := travel.NewEngine(store, tokens, travel.Config{
		StoreTimeout:         cfg.StoreTimeout,
		CheckBalanceOnSubmit: cfg.CheckBalanceOnSubmit,
		DefaultLeaves:        cfg.DefaultLeaves,
	})
	engine.Logger = logger

	if cfg.SeedDemo {
		if err := seedIfEmpty(context.Background(), store, engine); err != nil {
			logger.Fatalf("Failed to seed demo data: %v", err)
		}
	}

	handler := api.NewHandler(engine)
	handler.Logger = logger
	handler.Ready = func(r *http.Request) error { return store.Ping(r.Context()) }

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 30 * time.Second,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Printf("Server starting on http://localhost%s", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("Server forced to shutdown: %v", err)
	}

	logger.Println("Server stopped")
}

func seedIfEmpty(ctx context.Context, store *sqlite.Store, engine *travel.Engine) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	created, err := engine.Seed(ctx, "demo")
	if err != nil {
		return err
	}
	for _, u := range created {
		engine.Logger.Printf("seeded %s (%s) password %q", u.Email, u.Role, travel.DemoPassword)
	}
	return nil
}
