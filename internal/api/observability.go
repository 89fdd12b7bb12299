package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/replay"
)

// Label values are bounded: strategies, route patterns and message kinds.
var (
	seekDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_seek_duration_seconds",
		Help:    "Time spent seeking, by strategy",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"strategy"})

	ticksReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_seek_ticks_total",
		Help: "Ticks crossed by seeks, by strategy",
	}, []string{"strategy"})

	checkpointResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_checkpoint_resets_total",
		Help: "Resets of the simulation to a checkpoint",
	})

	unhandledMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_unhandled_message_types_total",
		Help: "Message types seen with no handler, counted once per replay",
	}, []string{"kind"})

	currentIndex = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_current_index",
		Help: "Index of the last applied tick",
	})

	// Rejections, for spotting abuse of the control API.
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, origin or auth check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	// HTTP metrics; endpoint is the route pattern, not the full URL.
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// PrometheusTelemetry exports playback measurements.
type PrometheusTelemetry struct{}

var _ replay.Telemetry = PrometheusTelemetry{}

func (PrometheusTelemetry) RecordSeek(strategy replay.SeekStrategy, ticks int, took time.Duration) {
	seekDuration.WithLabelValues(string(strategy)).Observe(took.Seconds())
	ticksReplayed.WithLabelValues(string(strategy)).Add(float64(ticks))
}

func (PrometheusTelemetry) RecordCheckpointReset() {
	checkpointResets.Inc()
}

func (PrometheusTelemetry) RecordUnhandledMessage(kind string) {
	unhandledMessages.WithLabelValues(kind).Inc()
}

func (PrometheusTelemetry) RecordIndex(index int) {
	currentIndex.Set(float64(index))
}

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // keep "127.0.0.1:6060" in production
	// AllowExternal permits a non-loopback ListenAddr.
	AllowExternal bool
	BasicAuthUser string
	BasicAuthPass string
}

// DefaultObservabilityConfig binds to loopback only.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// isLoopback reports whether addr binds to localhost only. An empty host
// ("":6060") binds every interface and is not loopback.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DebugHandler serves pprof, metrics and a health check.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	// pprof endpoints for profiling
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// StartDebugServer serves DebugHandler in the background. The returned
// server is nil when disabled.
func StartDebugServer(cfg ObservabilityConfig, log logrus.FieldLogger) *http.Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if !cfg.Enabled {
		log.Info("📊 Debug server disabled")
		return nil
	}
	// SECURITY: pprof and metrics stay on localhost unless external binding
	// is explicitly enabled.
	if !isLoopback(cfg.ListenAddr) && !cfg.AllowExternal {
		log.WithField("addr", cfg.ListenAddr).Warn("⚠️ Debug server forced to localhost for security")
		cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("📊 Debug server starting on %s", cfg.ListenAddr)
		log.Infof("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Infof("   - metrics: http://%s/metrics", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("⚠️ Debug server error")
		}
	}()
	return srv
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordConnectionRejected counts a rejected connection by reason.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections sets the active websocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages counts a broadcast.
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
