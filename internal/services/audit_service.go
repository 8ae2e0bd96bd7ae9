package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/db"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

type clientIPKey struct{}

// WithClientIP attaches the caller address to ctx for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address set by WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// NopAuditLogger discards entries. Used when no audit database is configured.
type NopAuditLogger struct{}

func (NopAuditLogger) LogAccess(context.Context, types.AuditEntry) error { return nil }

// AuditService persists audit entries in postgres.
type AuditService struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditService wraps an open database. Migrations are applied by the caller.
func NewAuditService(db *sql.DB, logger *zap.Logger) *AuditService {
	return &AuditService{db: db, logger: logger.Named("audit")}
}

// Close closes the database connection
func (s *AuditService) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// LogAccess inserts one audit row, assigning an id and timestamp when missing.
func (s *AuditService) LogAccess(ctx context.Context, entry types.AuditEntry) error {
	if entry.AuditID == "" {
		entry.AuditID = "audit_" + uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	metadataJSON := []byte("{}")
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadataJSON = b
	}

	query := `
		INSERT INTO audit_logs (audit_id, operation, subject, status, detail, client_ip, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.AuditID,
		entry.Operation,
		entry.Subject,
		entry.Status,
		entry.Detail,
		entry.ClientIP,
		metadataJSON,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	s.logger.Debug("audit entry written", zap.String("audit_id", entry.AuditID), zap.String("operation", entry.Operation))
	return nil
}

// auditQuery is a filtered audit_logs select with its positional args.
type auditQuery struct {
	where string
	args  []any
}

// buildAuditQuery renders the WHERE clause for filter.
func buildAuditQuery(filter types.AuditFilter) auditQuery {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !filter.StartTime.IsZero() {
		add("timestamp >= $%d", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		add("timestamp <= $%d", filter.EndTime)
	}
	if filter.Operation != "" {
		add("operation = $%d", filter.Operation)
	}
	if filter.Subject != "" {
		add("subject = $%d", filter.Subject)
	}

	q := auditQuery{where: "WHERE 1=1", args: args}
	if len(clauses) > 0 {
		q.where += " AND " + strings.Join(clauses, " AND ")
	}
	return q
}

// pageClause appends ordering and paging to q, returning the SQL tail and the full args.
func (q auditQuery) pageClause(limit, offset int) (string, []any) {
	args := append([]any(nil), q.args...)
	tail := " ORDER BY timestamp DESC"
	if limit > 0 {
		args = append(args, limit)
		tail += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return tail, args
}

// GetAuditLogs retrieves audit logs based on criteria
func (s *AuditService) GetAuditLogs(ctx context.Context, filter types.AuditFilter) (*types.AuditPage, error) {
	q := buildAuditQuery(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + q.where
	if err := s.db.QueryRowContext(ctx, countQuery, q.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	tail, args := q.pageClause(filter.Limit, filter.Offset)
	query := `SELECT audit_id, operation, subject, status, detail, client_ip, metadata, timestamp FROM audit_logs ` + q.where + tail

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	page := &types.AuditPage{TotalCount: total, Logs: []types.AuditEntry{}}
	for rows.Next() {
		var (
			e                         types.AuditEntry
			subject, detail, clientIP sql.NullString
			metadataJSON              []byte
		)
		if err := rows.Scan(&e.AuditID, &e.Operation, &subject, &e.Status, &detail, &clientIP, &metadataJSON, &e.Timestamp); err != nil {
			s.logger.Warn("failed to scan audit row", zap.Error(err))
			continue
		}
		e.Subject, e.Detail, e.ClientIP = subject.String, detail.String, clientIP.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				s.logger.Warn("failed to unmarshal audit metadata", zap.String("audit_id", e.AuditID), zap.Error(err))
			}
		}
		page.Logs = append(page.Logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	s.logger.Debug("retrieved audit logs", zap.Int("count", len(page.Logs)), zap.Int("total", total))
	return page, nil
}

// HealthCheck pings the audit database.
func (s *AuditService) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("audit database unhealthy: %w", err)
	}
	return nil
}

// OpenAuditService connects to databaseURL, applies migrations and returns
// the service.
func OpenAuditService(ctx context.Context, databaseURL string, logger *zap.Logger) (*AuditService, error) {
	database, err := db.Open(ctx, databaseURL, db.DefaultPool)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if err := db.NewMigrator(database, logger).MigrateUp(ctx); err != nil {
		database.Close()
		return nil, err
	}
	logger.Info("connected to audit database")
	return NewAuditService(database, logger), nil
}
