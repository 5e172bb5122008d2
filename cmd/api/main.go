package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/replyloop/backend/internal/handlers"
	"github.com/replyloop/backend/internal/middleware"
	"github.com/replyloop/backend/internal/workers"
	"github.com/rs/cors"
)

// deps holds the process-boundary functions so run() is testable without a
// real database or listener.
type deps struct {
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	listenAndServe func(*http.Server) error
	notify         func(chan<- os.Signal, ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      migrateUp,
		listenAndServe: func(srv *http.Server) error { return srv.ListenAndServe() },
		notify:         signal.Notify,
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

func resolvePort(getenv func(string) string) string {
	if port := getenv("PORT"); port != "" {
		return port
	}
	return "18911"
}

// parseIntervalFromEnv reads a positive seconds value from the env key,
// falling back to def on anything else.
func parseIntervalFromEnv(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func buildRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()
	handlers.RegisterRoutes(h, r)
	return r
}

// migrateUp applies every pending migration from db/migrations.
func migrateUp(db *sql.DB) error {
	if db == nil {
		return errors.New("migrateUp: nil db")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// startWorkers launches the background loops. The scheduled-message runner
// and the token refresher have enable flags (default on); the retention
// sweeper always runs.
func startWorkers(ctx context.Context, h *handlers.Handler, getenv func(string) string) {
	if enabled := getenv("SCHEDULED_MESSAGES_ENABLED"); enabled == "" || enabled == "true" {
		runner := &workers.ScheduledMessageRunner{
			Store:      h.Store(),
			Dispatcher: h.Dispatcher(),
			Interval:   parseIntervalFromEnv(getenv, "SCHEDULED_MESSAGES_INTERVAL_SECONDS", time.Minute),
		}
		go runner.Start(ctx)
	} else {
		log.Printf("[ScheduledMessages] disabled via SCHEDULED_MESSAGES_ENABLED=%q", enabled)
	}

	if enabled := getenv("TOKEN_REFRESH_ENABLED"); enabled == "" || enabled == "true" {
		refresher := &workers.TokenRefreshWorker{
			Store:  h.Store(),
			Client: h.Instagram(),
		}
		go refresher.Start(ctx)
	} else {
		log.Printf("[TokenRefresh] disabled via TOKEN_REFRESH_ENABLED=%q", enabled)
	}

	retention := &workers.ActivityRetentionWorker{Store: h.Store()}
	if v := getenv("ACTIVITY_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			retention.RetentionDays = days
		}
	}
	go retention.Start(ctx)
}

func run(d deps) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	databaseURL := d.getenv("DATABASE_URL")
	if databaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil {
		return errors.New("no database opener configured")
	}

	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	if d.migrateUp != nil {
		if err := d.migrateUp(db); err != nil {
			return err
		}
		log.Println("Database is up-to-date")
	}

	h := handlers.New(db)
	r := buildRouter(h)

	// Plan limit enforcement wraps the whole API; webhook and billing routes
	// are exempt inside the middleware.
	enforcer := middleware.NewSubscriptionEnforcer(db)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	port := resolvePort(d.getenv)
	srv := &http.Server{
		Handler:      c.Handler(enforcer.Middleware(r)),
		Addr:         ":" + port,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	startWorkers(rootCtx, h, d.getenv)

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", port)
	if err := d.listenAndServe(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Println("Server stopped")
	return nil
}
