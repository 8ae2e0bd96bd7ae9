package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

// TTLLabel holds an instance's time to live in whole minutes.
const TTLLabel = "ttl"

var errLockHeld = errors.New("instance is locked by another reaper")

// LabelFilter selects instances carrying label with any value.
func LabelFilter(label string) string {
	return "labels." + label + ":*"
}

// DecodeReapEvent parses a JSON reap trigger and checks it.
func DecodeReapEvent(data []byte) (models.ReapRequest, error) {
	var req models.ReapRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, types.NewValidationError("payload", "invalid reap payload: %v", err)
	}
	if err := ValidateReapRequest(req); err != nil {
		return req, err
	}
	return req, nil
}

// DecodeReapPayload decodes a base64 JSON reap trigger.
func DecodeReapPayload(encoded string) (models.ReapRequest, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return models.ReapRequest{}, types.NewValidationError("payload", "payload is not base64: %v", err)
	}
	return DecodeReapEvent(data)
}

// Expired reports whether inst has outlived its ttl label at now. Instances
// without a ttl are never expired; an unparseable ttl or creation time is an error.
func Expired(inst types.Instance, now time.Time) (bool, error) {
	raw, ok := inst.Labels[TTLLabel]
	if !ok {
		return false, nil
	}
	ttl, err := strconv.Atoi(raw)
	if err != nil {
		return false, fmt.Errorf("ttl label %q is not an integer", raw)
	}
	created, err := time.Parse(time.RFC3339, inst.CreationTimestamp)
	if err != nil {
		return false, fmt.Errorf("invalid creation timestamp %q: %w", inst.CreationTimestamp, err)
	}

	ageMinutes := float64(now.Unix()-created.Unix()) / 60
	return ageMinutes > float64(ttl), nil
}

// InstanceFailure is one instance the reaper could not delete.
type InstanceFailure struct {
	Name string
	Zone string
	Err  error
}

// ReapError reports the instances that failed in a pass along with those
// that were deleted before the pass ended.
type ReapError struct {
	Deleted  []string
	Failures []InstanceFailure
}

func (e *ReapError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s/%s: %v", f.Zone, f.Name, f.Err))
	}
	return fmt.Sprintf("failed to delete %d instance(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *ReapError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ReaperService deletes labelled instances that have outlived their ttl.
type ReaperService struct {
	project string
	compute types.InstanceAPI
	locker  types.InstanceLocker
	lockTTL time.Duration
	audit   types.AuditLogger
	metrics *ReaperMetrics
	now     func() time.Time
	logger  *zap.Logger
}

type ReaperOption func(*ReaperService)

// WithLocker guards each delete with a lock held for ttl.
func WithLocker(l types.InstanceLocker, ttl time.Duration) ReaperOption {
	return func(s *ReaperService) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithAudit(a types.AuditLogger) ReaperOption {
	return func(s *ReaperService) { s.audit = a }
}

func WithMetrics(m *ReaperMetrics) ReaperOption {
	return func(s *ReaperService) { s.metrics = m }
}

func WithClock(now func() time.Time) ReaperOption {
	return func(s *ReaperService) { s.now = now }
}

func NewReaperService(project string, compute types.InstanceAPI, logger *zap.Logger, opts ...ReaperOption) *ReaperService {
	s := &ReaperService{
		project: project,
		compute: compute,
		audit:   NopAuditLogger{},
		now:     time.Now,
		logger:  logger.Named("reaper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reap lists instances carrying req.Label and deletes those past their ttl.
// Deletion binds to each instance's own zone; req.Zone only narrows the listing.
func (s *ReaperService) Reap(ctx context.Context, req models.ReapRequest) (*models.ReapResponse, error) {
	if err := ValidateReapRequest(req); err != nil {
		return nil, err
	}
	s.metrics.pass()

	filter := LabelFilter(req.Label)
	instances, err := s.compute.ListInstances(ctx, s.project, req.Zone, filter)
	if err != nil {
		s.metrics.failure("list")
		s.logger.Error("failed to list instances", logging.Project(s.project), zap.String("filter", filter), zap.Error(err))
		return nil, &types.ProviderError{Op: "list instances", Err: err}
	}
	s.logger.Info("reap pass", logging.Project(s.project), zap.String("filter", filter), zap.Int("matched", len(instances)))

	now := s.now()
	report := &models.ReapResponse{Deleted: []string{}}
	var failures []InstanceFailure

	for _, inst := range instances {
		log := s.logger.With(logging.Instance(inst.Name), logging.Zone(inst.Zone))

		expired, err := Expired(inst, now)
		if err != nil {
			log.Warn("skipping instance with unusable ttl", zap.Error(err))
			s.metrics.skip("invalid_ttl")
			report.Skipped = append(report.Skipped, inst.Name)
			continue
		}
		if !expired {
			s.metrics.skip("not_expired")
			continue
		}

		zone := inst.Zone
		if zone == "" {
			zone = req.Zone
		}

		err = s.deleteInstance(ctx, zone, inst.Name)
		switch {
		case errors.Is(err, errLockHeld):
			log.Info("instance already being deleted")
			s.metrics.skip("locked")
			report.Skipped = append(report.Skipped, inst.Name)
		case err != nil:
			log.Error("failed to delete instance", zap.Error(err))
			failures = append(failures, InstanceFailure{Name: inst.Name, Zone: zone, Err: err})
			s.record(ctx, req, inst.Name, zone, err)
		default:
			msg := "Successfully deleted instance " + inst.Name
			log.Info(msg)
			report.Deleted = append(report.Deleted, inst.Name)
			report.Messages = append(report.Messages, msg)
			s.record(ctx, req, inst.Name, zone, nil)
		}
	}

	if len(failures) > 0 {
		return nil, &ReapError{Deleted: report.Deleted, Failures: failures}
	}
	return report, nil
}

// deleteInstance deletes one instance and waits for the operation. The lock,
// when configured, is kept on success so redelivered events skip the instance.
func (s *ReaperService) deleteInstance(ctx context.Context, zone, name string) (err error) {
	if s.locker != nil {
		key := LockKey(s.project, zone, name)
		ok, lerr := s.locker.Acquire(ctx, key, s.lockTTL)
		if lerr != nil {
			s.metrics.failure("lock")
			return &types.ProviderError{Op: "acquire lock", Err: lerr}
		}
		if !ok {
			return errLockHeld
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := s.locker.Release(context.WithoutCancel(ctx), key); rerr != nil {
				s.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(rerr))
			}
		}()
	}

	start := s.now()
	op, err := s.compute.DeleteInstance(ctx, s.project, zone, name)
	if err != nil {
		s.metrics.failure("delete")
		return &types.ProviderError{Op: "delete instance", Err: err}
	}
	if err := op.Wait(ctx); err != nil {
		s.metrics.failure("wait")
		return &types.ProviderError{Op: "wait for delete", Err: err}
	}
	s.metrics.deletion(s.now().Sub(start).Seconds())
	return nil
}

func (s *ReaperService) record(ctx context.Context, req models.ReapRequest, name, zone string, opErr error) {
	entry := types.AuditEntry{
		Operation: OperationReap,
		Subject:   name,
		Status:    StatusSuccess,
		Metadata:  map[string]string{"project": s.project, "zone": zone, "label": req.Label},
		Timestamp: s.now().UTC(),
	}
	if opErr != nil {
		entry.Status = StatusError
		entry.Detail = opErr.Error()
	}
	if err := s.audit.LogAccess(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry", logging.Instance(name), zap.Error(err))
	}
}
