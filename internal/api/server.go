package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

// Server is the tokenization gateway HTTP server.
type Server struct {
	config     *config.Config
	router     *mux.Router
	handler    *Handler
	registry   *prometheus.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(cfg *config.Config, tokenizer Tokenizer, audit types.AuditReader, checks map[string]HealthFunc, logger *zap.Logger) *Server {
	registry := newRegistry()
	server := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		registry: registry,
		logger:   logger,
	}

	server.handler = NewHandler(cfg, tokenizer, audit, checks, registry, logger)
	server.setupRoutes()
	server.httpServer = newHTTPServer(cfg.APIPort, server.router, gatewayRequestTimeout)
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handler.HealthCheck).Methods("GET")
	s.router.Handle("/metrics", metricsHandler(s.registry)).Methods("GET")

	// Unversioned paths keep the function-style endpoints working.
	s.router.HandleFunc("/tokenize", s.handler.Tokenize).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/detokenize", s.handler.Detokenize).Methods("POST", "OPTIONS")

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/tokenize", s.handler.Tokenize).Methods("POST", "OPTIONS")
	api.HandleFunc("/detokenize", s.handler.Detokenize).Methods("POST", "OPTIONS")
	api.Handle("/metrics", metricsHandler(s.registry)).Methods("GET")
	api.HandleFunc("/audit/logs", s.handler.GetAuditLogs).Methods("GET")

	useCommonMiddleware(s.router, s.logger)
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("starting gateway HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// gatewayRequestTimeout bounds a single DLP round trip plus response.
const gatewayRequestTimeout = 15 * time.Second

// newHTTPServer builds the listener config. requestTimeout is both the read
// and write deadline of a request, since an expired read deadline cancels the
// request context. Zero disables both.
func newHTTPServer(port string, h http.Handler, requestTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func useCommonMiddleware(router *mux.Router, logger *zap.Logger) {
	router.Use(requestIDMiddleware)
	router.Use(clientIPMiddleware)
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				logging.Method(r.Method),
				logging.Path(r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", w.Header().Get("X-Request-ID")),
			)
		})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func clientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithClientIP(r.Context(), clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP prefers the first X-Forwarded-For hop set by the front end.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
