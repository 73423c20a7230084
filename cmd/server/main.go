package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	web "verrou/internal/adapters/http"
	"verrou/internal/adapters/http/perf"
	"verrou/internal/adapters/storage"
	"verrou/internal/adapters/storage/snapshot"
	"verrou/internal/application/orchestrators"
	"verrou/internal/application/projections"
	"verrou/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load(envOrDefault("VERROU_CONFIG", "verrou.toml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	csrfKey, err := cfg.CSRFKey()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database with WAL mode and busy timeout
	dsn := cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// A single slot and a single writer: a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	// Health check
	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}

	// Run database migrations
	if err := storage.MigrateDB(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	log.Println("Database initialized successfully!")

	// Performance instrumentation: wrap DB with timing, create collector
	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector, cfg.SlowQueryMs)

	snapshotKey := cfg.SnapshotKey
	if snapshotKey == "" {
		snapshotKey = snapshot.DefaultKey
	}
	store := orchestrators.NewStateStore(orchestrators.StateStoreDeps{
		Persister: snapshot.NewSQLiteStore(timedDB, snapshotKey),
		AdminCode: cfg.AdminCode,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Restore before serving: nothing is persisted until this completes.
	restored := store.Restore(ctx)
	log.Printf("Session restored (plan generated: %v, steps: %d)", restored.PlanGenerated, len(restored.Plan))

	// Create HTTP handler with middleware (pass collector for timing + perf endpoint)
	handler := web.NewMux(web.Deps{
		State:     store,
		DB:        timedDB,
		Collector: collector,
		Messaging: projections.GetProtocolQuery{
			MessagingHost:  cfg.MessagingHost,
			InstructorName: cfg.InstructorName,
		},
	}, web.Options{
		CSRFKey:        csrfKey,
		Secure:         cfg.IsProduction(),
		TrustedOrigins: trustedOrigins(cfg.Addr),
		SlowRequestMs:  cfg.SlowRequestMs,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("Le Verrou %s starting on %s (env=%s, schema=%d)", version, cfg.Addr, cfg.Env, storage.LatestSchemaVersion())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// trustedOrigins lists the host:port forms a browser may send for addr.
func trustedOrigins(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return []string{"localhost:" + port, "127.0.0.1:" + port}
	}
	return []string{net.JoinHostPort(host, port), "localhost:" + port}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
