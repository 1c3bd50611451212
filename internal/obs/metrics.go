package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Метрики аутентификации
var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	resolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_resolve_total",
			Help: "Bearer token resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_sync_total",
			Help: "Relation sync calls by catalog and outcome.",
		},
		[]string{"catalog", "outcome"},
	)

	passwordHashSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcore_password_hash_seconds",
		Help:    "Time spent in the password KDF.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authcore_ready",
		Help: "1 when the service can reach its storage.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, resolveTotal, syncTotal, passwordHashSeconds, ready,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveLogin(outcome string) { loginTotal.WithLabelValues(outcome).Inc() }

func ObserveResolve(outcome string) { resolveTotal.WithLabelValues(outcome).Inc() }

func ObserveSync(catalog, outcome string) { syncTotal.WithLabelValues(catalog, outcome).Inc() }

func ObservePasswordHash(d time.Duration) { passwordHashSeconds.Observe(d.Seconds()) }

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CanonicalPath returns the route template matched by the router so metric
// labels stay bounded; unmatched requests collapse to "unmatched".
func CanonicalPath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Instrument is a router middleware measuring RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
