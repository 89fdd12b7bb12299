package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/replay"
	"tick-replay/internal/viewer"
)

// Viewer is the playback surface the API drives. *viewer.Host implements it.
type Viewer interface {
	Status() viewer.Status
	Checkpoints() ([]viewer.CheckpointInfo, error)
	Load(ctx context.Context, path string) (string, error)
	StopReplay() error
	SetPlaying(playing bool) error
	SetIndex(index int, pause bool) error
	SetTime(d time.Duration, pause bool) error
	GetIndex(d time.Duration) (int, error)
	SetScrubbingTarget(target *int) error
	SetAutoPauseCountdown(count *uint32) error
}

// Notifier delivers playback notifications.
type Notifier interface {
	Subscribe(fn func(replay.Event)) func()
}

// RouterConfig contains the dependencies of the HTTP router.
//
//	router := api.NewRouter(api.RouterConfig{
//	    Viewer:          host,
//	    RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Viewer is required.
	Viewer Viewer

	// RateLimiter is used as is when set, otherwise one is built from
	// RateLimitConfig or DefaultRateLimitConfig.
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// CORSOrigins defaults to localhost on any port.
	CORSOrigins []string

	// RecordingDir is the directory load requests are resolved against.
	RecordingDir string

	// ControlToken, when set, is required as a bearer token on every
	// mutating request.
	ControlToken string

	Logger         logrus.FieldLogger
	DisableLogging bool
}

type routerHandlers struct {
	viewer       Viewer
	rateLimiter  *IPRateLimiter
	recordingDir string
	log          logrus.FieldLogger
}

// NewRouter builds the router. It starts no goroutines besides the rate
// limiter cleanup and opens no listeners, so it is safe for httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	recordingDir := cfg.RecordingDir
	if recordingDir == "" {
		recordingDir = "."
	}
	h := &routerHandlers{
		viewer:       cfg.Viewer,
		rateLimiter:  rateLimiter,
		recordingDir: recordingDir,
		log:          cfg.Logger,
	}

	r.Get("/api/stats", h.handleStats)

	r.Route("/api/replay", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/index", h.handleIndex)
		r.Get("/checkpoints", h.handleCheckpoints)

		r.Group(func(r chi.Router) {
			if cfg.ControlToken != "" {
				r.Use(requireToken(cfg.ControlToken))
			}
			r.Post("/load", h.handleLoad)
			r.Post("/stop", h.handleStop)
			r.Post("/play", h.handlePlay)
			r.Post("/pause", h.handlePause)
			r.Post("/seek", h.handleSeek)
			r.Post("/seek-time", h.handleSeekTime)
			r.Post("/scrub", h.handleScrub)
			r.Post("/auto-pause", h.handleAutoPause)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	return r
}

// instrument records request metrics by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, pattern, status, time.Since(start))
	})
}
