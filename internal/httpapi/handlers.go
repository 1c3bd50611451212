package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
)

const serviceName = "authcore"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe: простая проверка готовности (ping БД). A nil DB is always
// ready, which is the case for the in-memory store.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API: HTTP слой.
type API struct {
	router      *mux.Router
	svc         *auth.Service
	readyProbe  readinessChecker
	version     string
	logger      logrus.FieldLogger
	corsOrigins []string
	maxBody     int64
}

// Option configures the API.
type Option func(*API)

// WithLogger overrides the request and error logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCORSOrigins allows the listed browser origins in addition to localhost.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(svc *auth.Service, rp readinessChecker, version string, opts ...Option) *API {
	a := &API{
		router:     mux.NewRouter(),
		svc:        svc,
		readyProbe: rp,
		version:    version,
		logger:     obs.Logger(),
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(obs.Instrument)

	// health/ready/metrics
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// session
	r.HandleFunc("/login", a.login).Methods(http.MethodPost)
	r.Handle("/user", a.withAuth(http.HandlerFunc(a.whoami))).Methods(http.MethodGet)
	r.Handle("/logout", a.withAuth(http.HandlerFunc(a.logout))).Methods(http.MethodDelete)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.withAuth)

	v1.HandleFunc("/user", a.listAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/user", a.createAccount).Methods(http.MethodPost)
	v1.HandleFunc("/user/{id}", a.getAccount).Methods(http.MethodGet)
	v1.HandleFunc("/user/{id}", a.updateAccount).Methods(http.MethodPut)
	v1.HandleFunc("/user/{id}", a.deleteAccount).Methods(http.MethodDelete)
	v1.HandleFunc("/user/{id}/password", a.changePassword).Methods(http.MethodPut)
	v1.HandleFunc("/user/{id}/permissions", a.syncHandler(auth.CatalogPermissions, "permissions")).Methods(http.MethodPut)
	v1.HandleFunc("/user/{id}/roles", a.syncHandler(auth.CatalogRoles, "roles")).Methods(http.MethodPut)

	a.catalogRoutes(v1, "/permission", auth.CatalogPermissions)
	a.catalogRoutes(v1, "/role", auth.CatalogRoles)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler возвращает http.Handler для сервера со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = Logging(h, a.logger)
	h = RequestID(h)
	return otelhttp.NewHandler(h, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeServiceError maps auth errors onto statuses. Anything unrecognised is
// logged with the request id and answered with an opaque 500.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, verr)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: invalid input: "))
	case errors.Is(err, auth.ErrUnauthorized):
		unauthorized(w, r)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, strings.TrimPrefix(err.Error(), "auth: conflict: "))
	default:
		a.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
		payload := map[string]any{"message": "internal server error"}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusInternalServerError, payload)
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, "unauthenticated")
}
