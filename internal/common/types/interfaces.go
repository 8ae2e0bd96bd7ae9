package types

import (
	"context"
	"time"
)

// AuditLogger records audit events. Implementations must not fail the caller's
// operation; errors are returned for logging only.
type AuditLogger interface {
	LogAccess(ctx context.Context, entry AuditEntry) error
}

// AuditReader serves the audit log listing endpoint.
type AuditReader interface {
	GetAuditLogs(ctx context.Context, filter AuditFilter) (*AuditPage, error)
}

// InstanceLocker guards an instance against concurrent deletion.
type InstanceLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Operation is a pending provider-side long-running operation.
type Operation interface {
	Wait(ctx context.Context) error
}

// InstanceAPI is the compute inventory/control surface the reaper depends on.
// An empty zone lists across all zones of the project.
type InstanceAPI interface {
	ListInstances(ctx context.Context, project, zone, filter string) ([]Instance, error)
	DeleteInstance(ctx context.Context, project, zone, name string) (Operation, error)
}
