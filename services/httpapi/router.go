// Package httpapi is the control-plane HTTP ingress: a thin shell over the
// heartbeat intake, the approval service, the fleet projection, and the cache
// engine's status surface.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HZeroxium/fleet-control/infrastructure/cache"
	"github.com/HZeroxium/fleet-control/infrastructure/httputil"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
	"github.com/HZeroxium/fleet-control/infrastructure/ratelimit"
	"github.com/HZeroxium/fleet-control/infrastructure/resilience"
	approvalsvc "github.com/HZeroxium/fleet-control/services/approval"
	heartbeatsvc "github.com/HZeroxium/fleet-control/services/heartbeat"
	registrysvc "github.com/HZeroxium/fleet-control/services/registry"
	"github.com/HZeroxium/fleet-control/pkg/storage"
)

// Deps carries everything the router serves.
type Deps struct {
	Ingestor  *heartbeatsvc.Ingestor
	Fleet     storage.FleetStore
	Approvals *approvalsvc.Service
	Registry  *registrysvc.Service
	Cache     *cache.Engine
	Health    *resilience.HealthRegistry
	Limiter   *ratelimit.RateLimiter
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	Service   string

	// DeadlineDisabled turns off X-Request-Deadline propagation (on by default).
	DeadlineDisabled bool
}

// NewRouter assembles the ingress router.
func NewRouter(deps Deps) *mux.Router {
	h := &handlers{deps: deps}

	router := mux.NewRouter()
	router.Use(traceMiddleware)
	if !deps.DeadlineDisabled {
		router.Use(httputil.DeadlineMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		router.Use(h.metricsMiddleware)
	}

	heartbeatHandler := http.Handler(http.HandlerFunc(h.postHeartbeat))
	if deps.Limiter != nil {
		heartbeatHandler = deps.Limiter.Middleware(heartbeatHandler)
	}
	router.Handle("/api/heartbeat", heartbeatHandler).Methods(http.MethodPost)

	router.HandleFunc("/api/fleet", h.listFleet).Methods(http.MethodGet)
	router.HandleFunc("/api/fleet/{serviceName}", h.listFleetByService).Methods(http.MethodGet)

	router.HandleFunc("/api/application-services", h.createService).Methods(http.MethodPost)
	router.HandleFunc("/api/application-services", h.listServices).Methods(http.MethodGet)
	router.HandleFunc("/api/application-services/{id}", h.getService).Methods(http.MethodGet)
	router.HandleFunc("/api/application-services/{id}/approval-requests", h.createApprovalRequest).Methods(http.MethodPost)
	router.HandleFunc("/api/application-services/{id}/shares", h.grantShare).Methods(http.MethodPost)
	router.HandleFunc("/api/application-services/{id}/shares", h.listShares).Methods(http.MethodGet)
	router.HandleFunc("/api/shares/{id}", h.revokeShare).Methods(http.MethodDelete)

	router.HandleFunc("/api/approval-requests/{id}", h.getApprovalRequest).Methods(http.MethodGet)
	router.HandleFunc("/api/approval-requests/{id}/decisions", h.postDecision).Methods(http.MethodPost)
	router.HandleFunc("/api/approval-requests/{id}/cancel", h.cancelApprovalRequest).Methods(http.MethodPost)

	router.HandleFunc("/api/cache/status", h.cacheStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/cache/provider", h.switchCacheProvider).Methods(http.MethodPut)

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

// traceMiddleware assigns or adopts a trace ID per request.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *handlers) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		h.deps.Metrics.RecordHTTPRequest(h.deps.Service, r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}
