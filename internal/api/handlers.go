package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
	"github.com/PlainFunction/cloudhandlers/internal/services"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
	maxBodyBytes      = 64 << 10
)

// Tokenizer is the gateway's view of services.TokenizerService.
type Tokenizer interface {
	Tokenize(ctx context.Context, req models.TokenizeRequest) (string, error)
	Detokenize(ctx context.Context, req models.DetokenizeRequest) (*models.DetokenizeResponse, error)
}

// HealthFunc reports a dependency's health. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

type Handler struct {
	config    *config.Config
	tokenizer Tokenizer
	audit     types.AuditReader
	checks    map[string]HealthFunc
	logger    *zap.Logger

	// Prometheus metrics
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	tokenizeRequests   prometheus.Counter
	detokenizeRequests prometheus.Counter
}

// NewHandler builds the gateway handlers. audit may be nil when the audit
// trail is disabled.
func NewHandler(cfg *config.Config, tokenizer Tokenizer, audit types.AuditReader, checks map[string]HealthFunc, reg prometheus.Registerer, logger *zap.Logger) *Handler {
	requestsTotal, requestDuration := newRequestMetrics(reg)

	tokenizeRequests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_tokenize_requests_total",
			Help: "Total number of successful tokenize requests",
		},
	)
	detokenizeRequests := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_detokenize_requests_total",
			Help: "Total number of successful detokenize requests",
		},
	)
	reg.MustRegister(tokenizeRequests, detokenizeRequests)

	return &Handler{
		config:             cfg,
		tokenizer:          tokenizer,
		audit:              audit,
		checks:             checks,
		logger:             logger.Named("handler"),
		requestsTotal:      requestsTotal,
		requestDuration:    requestDuration,
		tokenizeRequests:   tokenizeRequests,
		detokenizeRequests: detokenizeRequests,
	}
}

func newRequestMetrics(reg prometheus.Registerer) (*prometheus.CounterVec, *prometheus.HistogramVec) {
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	reg.MustRegister(requestsTotal, requestDuration)
	return requestsTotal, requestDuration
}

func (h *Handler) observe(method, endpoint string, status int, start time.Time) {
	h.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	h.requestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status, resp := runHealthChecks(r.Context(), h.checks, "tokenization-gateway", h.config.AppVersion())
	h.observe("GET", "/health", status, start)
	writeJSON(w, status, resp)
}

func (h *Handler) Tokenize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	fields, err := decodeFields(w, r)
	if err != nil {
		h.observe("POST", "/tokenize", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body")
		return
	}
	req := models.TokenizeRequest{
		ProjectID: fields["project_id"],
		CC:        fields["cc"],
		MM:        fields["mm"],
		YYYY:      fields["yyyy"],
		UserID:    fields["user_id"],
	}

	token, err := h.tokenizer.Tokenize(r.Context(), req)
	if err != nil {
		h.logger.Info("tokenize failed", zap.String("error", services.RedactError(err)))
		h.observe("POST", "/tokenize", http.StatusInternalServerError, start)
		writeText(w, http.StatusInternalServerError, tokenizeErrorMessage(err))
		return
	}

	h.tokenizeRequests.Inc()
	h.observe("POST", "/tokenize", http.StatusOK, start)
	writeText(w, http.StatusOK, token)
}

func (h *Handler) Detokenize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	fields, err := decodeFields(w, r)
	if err != nil {
		h.observe("POST", "/detokenize", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "Invalid request body")
		return
	}
	req := models.DetokenizeRequest{
		ProjectID: fields["project_id"],
		Token:     fields["token"],
		UserID:    fields["user_id"],
	}

	resp, err := h.tokenizer.Detokenize(r.Context(), req)
	if err != nil {
		h.logger.Info("detokenize failed", zap.String("error", services.RedactError(err)))
		h.observe("POST", "/detokenize", http.StatusInternalServerError, start)
		writeText(w, http.StatusInternalServerError, detokenizeErrorMessage(err))
		return
	}

	h.detokenizeRequests.Inc()
	h.observe("POST", "/detokenize", http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if h.audit == nil {
		h.observe("GET", "/audit/logs", http.StatusServiceUnavailable, start)
		writeError(w, http.StatusServiceUnavailable, "AUDIT_DISABLED", "Audit trail is not configured")
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		h.observe("GET", "/audit/logs", http.StatusBadRequest, start)
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	page, err := h.audit.GetAuditLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to get audit logs", zap.Error(err))
		h.observe("GET", "/audit/logs", http.StatusInternalServerError, start)
		writeError(w, http.StatusInternalServerError, "GET_AUDIT_LOGS_FAILED", fmt.Sprintf("GetAuditLogs failed: %v", err))
		return
	}

	resp := models.AuditLogsResponse{Logs: make([]models.AuditLogEntry, 0, len(page.Logs)), TotalCount: page.TotalCount}
	for _, e := range page.Logs {
		resp.Logs = append(resp.Logs, models.AuditLogEntry{
			AuditID:   e.AuditID,
			Operation: e.Operation,
			Subject:   e.Subject,
			Status:    e.Status,
			Detail:    e.Detail,
			ClientIP:  e.ClientIP,
			Metadata:  e.Metadata,
			Timestamp: e.Timestamp,
		})
	}

	h.observe("GET", "/audit/logs", http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}

func parseAuditFilter(r *http.Request) (types.AuditFilter, error) {
	q := r.URL.Query()
	filter := types.AuditFilter{
		Operation: q.Get("operation"),
		Subject:   q.Get("subject"),
		Limit:     defaultAuditLimit,
	}

	if s := q.Get("startTime"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("startTime must be RFC 3339: %w", err)
		}
		filter.StartTime = t
	}
	if s := q.Get("endTime"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("endTime must be RFC 3339: %w", err)
		}
		filter.EndTime = t
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(limit, maxAuditLimit)
	}
	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// decodeFields reads a form or JSON body into string fields. Numeric JSON
// values keep their literal text; missing fields read as "".
func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		return fields, nil
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		}
	}
	return fields, nil
}

func tokenizeErrorMessage(err error) string {
	if msg, ok := knownErrorMessage(err); ok {
		return msg
	}
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return fmt.Sprintf("Error during tokenization: %v.", perr.Err)
	}
	return fmt.Sprintf("Error during tokenization: %v.", err)
}

func detokenizeErrorMessage(err error) string {
	if msg, ok := knownErrorMessage(err); ok {
		return msg
	}
	var perr *types.ProviderError
	if errors.As(err, &perr) {
		return fmt.Sprintf("DLP Detokenization error: %v", perr.Err)
	}
	return fmt.Sprintf("DLP Detokenization error: %v", err)
}

// knownErrorMessage renders validation, transformation and decode failures.
func knownErrorMessage(err error) (string, bool) {
	var (
		verr *types.ValidationError
		terr *services.TransformationError
		derr *types.DecodeError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Message, true
	case errors.As(err, &terr):
		return terr.Error(), true
	case errors.As(err, &derr):
		return derr.Reason, true
	}
	return "", false
}

func runHealthChecks(ctx context.Context, checks map[string]HealthFunc, service, version string) (int, map[string]any) {
	details := make(map[string]string, len(checks))
	status := "healthy"
	for name, check := range checks {
		if err := check(ctx); err != nil {
			details[name] = fmt.Sprintf("unhealthy: %v", err)
			status = "unhealthy"
			continue
		}
		details[name] = "healthy"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return code, map[string]any{
		"status":    status,
		"service":   service,
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"details":   details,
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:   errorKind(status),
		Code:    code,
		Message: message,
	})
}

func errorKind(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "bad_request"
	case status == http.StatusServiceUnavailable:
		return "service_unavailable"
	case status >= 500:
		return "internal_server_error"
	default:
		return "error"
	}
}
