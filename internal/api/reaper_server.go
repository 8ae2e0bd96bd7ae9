package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

// ReaperHandler serves reap triggers delivered by Pub/Sub push or direct POST.
type ReaperHandler struct {
	config          *config.Config
	reaper          services.Reaper
	checks          map[string]HealthFunc
	logger          *zap.Logger
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewReaperHandler(cfg *config.Config, reaper services.Reaper, checks map[string]HealthFunc, reg prometheus.Registerer, logger *zap.Logger) *ReaperHandler {
	requestsTotal, requestDuration := newRequestMetrics(reg)
	return &ReaperHandler{
		config:          cfg,
		reaper:          reaper,
		checks:          checks,
		logger:          logger.Named("reaper-handler"),
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
	}
}

func (h *ReaperHandler) observe(endpoint string, status int, start time.Time) {
	h.requestsTotal.WithLabelValues("POST", endpoint, strconv.Itoa(status)).Inc()
	h.requestDuration.WithLabelValues("POST", endpoint).Observe(time.Since(start).Seconds())
}

func (h *ReaperHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, resp := runHealthChecks(r.Context(), h.checks, "instance-reaper", h.config.AppVersion())
	writeJSON(w, status, resp)
}

// PubSubPush handles a Pub/Sub push delivery whose message data is the reap trigger.
func (h *ReaperHandler) PubSubPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var env models.PushEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		h.observe("/pubsub/push", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_PUSH_ENVELOPE", "Invalid Pub/Sub push envelope")
		return
	}
	h.logger.Debug("push received", zap.String("message_id", env.Message.MessageID), zap.String("subscription", env.Subscription))

	req, err := services.DecodeReapEvent(env.Message.Data)
	if err != nil {
		h.observe("/pubsub/push", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	h.reap(r.Context(), w, "/pubsub/push", req, start)
}

// Reap handles a JSON ReapRequest body.
func (h *ReaperHandler) Reap(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req models.ReapRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.observe("/reap", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body")
		return
	}
	h.reap(r.Context(), w, "/reap", req, start)
}

func (h *ReaperHandler) reap(ctx context.Context, w http.ResponseWriter, endpoint string, req models.ReapRequest, start time.Time) {
	resp, err := h.reaper.Reap(ctx, req)
	if err != nil {
		if types.IsValidation(err) {
			h.observe(endpoint, http.StatusBadRequest, start)
			writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		}
		h.logger.Error("reap failed", zap.String("label", req.Label), zap.Error(err))
		h.observe(endpoint, http.StatusInternalServerError, start)
		var rerr *services.ReapError
		if errors.As(err, &rerr) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":   "internal_server_error",
				"code":    "REAP_PARTIAL_FAILURE",
				"message": err.Error(),
				"deleted": rerr.Deleted,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "REAP_FAILED", err.Error())
		return
	}

	h.observe(endpoint, http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}

// ReaperServer is the instance reaper HTTP server.
type ReaperServer struct {
	config     *config.Config
	router     *mux.Router
	handler    *ReaperHandler
	registry   *prometheus.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

// NewReaperServer builds the reaper router. registry, when non-nil, is served
// on /metrics so reaper metrics registered on it are exposed.
func NewReaperServer(cfg *config.Config, reaper services.Reaper, checks map[string]HealthFunc, registry *prometheus.Registry, logger *zap.Logger) *ReaperServer {
	if registry == nil {
		registry = newRegistry()
	}
	s := &ReaperServer{
		config:   cfg,
		router:   mux.NewRouter(),
		registry: registry,
		logger:   logger,
	}
	s.handler = NewReaperHandler(cfg, reaper, checks, registry, logger)

	s.router.HandleFunc("/health", s.handler.HealthCheck).Methods("GET")
	s.router.Handle("/metrics", metricsHandler(registry)).Methods("GET")
	s.router.HandleFunc("/pubsub/push", s.handler.PubSubPush).Methods("POST")
	s.router.HandleFunc("/v1/reap", s.handler.Reap).Methods("POST")
	useCommonMiddleware(s.router, logger)
	s.httpServer = newHTTPServer(cfg.ReaperPort, s.router, cfg.ReaperWriteTimeout)
	return s
}

// NewMetricsRegistry returns a registry with the runtime collectors registered.
func NewMetricsRegistry() *prometheus.Registry {
	return newRegistry()
}

func (s *ReaperServer) Handler() http.Handler {
	return s.router
}

func (s *ReaperServer) Start() error {
	s.logger.Info("starting reaper HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *ReaperServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
