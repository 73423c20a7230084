package web

import (
	"context"
	"crypto/rand"
	"embed"
	"log"
	"net/http"

	"verrou/internal/adapters/http/middleware"
	"verrou/internal/adapters/http/perf"
	"verrou/internal/application/orchestrators"
	"verrou/internal/application/projections"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the handlers read or mutate.
type Deps struct {
	State     *orchestrators.StateStore
	DB        Pinger
	Collector *perf.Collector
	Messaging projections.GetProtocolQuery
}

// Options configures the middleware stack.
type Options struct {
	// CSRFKey is the 32-byte form protection secret. Empty means a random key per startup.
	CSRFKey        []byte
	Secure         bool
	TrustedOrigins []string
	SlowRequestMs  int
}

// Global state store instance (set by NewMux)
var state *orchestrators.StateStore

// Global DB pinger for /healthz (set by NewMux)
var dbPinger Pinger

// Global perf collector (set by NewMux)
var perfCollector *perf.Collector

// Messaging options for video links (set by NewMux)
var messaging projections.GetProtocolQuery

// loadCSRFKey returns the configured key or, when none is set, a random one.
// Production startup refuses a missing key in config.Validate, so the random
// branch only runs in development.
func loadCSRFKey(key []byte) []byte {
	if len(key) > 0 {
		return key
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("failed to generate CSRF key: %v", err)
	}
	log.Println("WARNING: using random CSRF key (forms won't survive restart). Set VERROU_CSRF_KEY for production.")
	return key
}

// NewMux wires HTTP handlers for the app.
// PRE: deps.State has been restored
func NewMux(deps Deps, opts Options) http.Handler {
	state = deps.State
	dbPinger = deps.DB
	perfCollector = deps.Collector
	messaging = deps.Messaging

	mux := http.NewServeMux()
	registerRoutes(mux)

	csrfKey := loadCSRFKey(opts.CSRFKey)

	// Apply middleware: Timing -> SecurityHeaders -> CSRF -> Routes -> Mux
	return middleware.Chain(middleware.Routes(mux),
		middleware.CSRF(csrfKey, middleware.CSRFOptions{
			Secure:         opts.Secure,
			TrustedOrigins: opts.TrustedOrigins,
		}),
		middleware.SecurityHeaders,
		middleware.Timing(deps.Collector, opts.SlowRequestMs),
	)
}

// registerRoutes maps every route onto mux.
func registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /static/", http.FileServerFS(staticFS))
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /{$}", handleIndex)
	mux.HandleFunc("POST /calibration", handleCalibration)
	mux.HandleFunc("POST /calibration/{field}", handleCalibrationField)
	mux.HandleFunc("POST /plan", handleGeneratePlan)

	mux.HandleFunc("POST /admin/toggle", handleAdminToggle)
	mux.HandleFunc("POST /admin/login", handleAdminLogin)
	mux.HandleFunc("POST /admin/prompt/close", handleAdminPromptClose)
	mux.Handle("GET /admin/perf", middleware.RequireAdmin(state)(http.HandlerFunc(handleAdminPerf)))

	mux.HandleFunc("POST /steps/{id}/toggle", handleStepToggle)
	mux.HandleFunc("GET /steps/{id}/video", handleStepVideo)

	mux.HandleFunc("GET /reset", handleResetConfirm)
	mux.HandleFunc("POST /reset", handleReset)

	mux.HandleFunc("GET /api/state", handleAPIState)
}
