package models

import "time"

type TokenizeRequest struct {
	ProjectID string `json:"project_id"`
	CC        string `json:"cc"`
	MM        string `json:"mm"`
	YYYY      string `json:"yyyy"`
	UserID    string `json:"user_id"`
}

type DetokenizeRequest struct {
	ProjectID string `json:"project_id"`
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
}

type DetokenizeResponse struct {
	CC   string `json:"cc"`
	MM   string `json:"mm"`
	YYYY string `json:"yyyy"`
}

type AuditLogEntry struct {
	AuditID   string            `json:"auditId"`
	Operation string            `json:"operation"`
	Subject   string            `json:"subject"`
	Status    string            `json:"status"`
	Detail    string            `json:"detail,omitempty"`
	ClientIP  string            `json:"clientIp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type AuditLogsResponse struct {
	Logs       []AuditLogEntry `json:"logs"`
	TotalCount int             `json:"totalCount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
