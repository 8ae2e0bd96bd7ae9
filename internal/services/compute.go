package services

import (
	"context"
	"fmt"
	"strings"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

// ComputeClient adapts the Compute Engine instances REST client to types.InstanceAPI.
type ComputeClient struct {
	instances *compute.InstancesClient
	logger    *zap.Logger
}

// NewComputeClient dials the Compute Engine API with application default credentials.
func NewComputeClient(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*ComputeClient, error) {
	c, err := compute.NewInstancesRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}
	return &ComputeClient{instances: c, logger: logger.Named("compute")}, nil
}

func (c *ComputeClient) Close() error {
	return c.instances.Close()
}

// ListInstances lists instances matching filter. An empty zone searches every zone.
func (c *ComputeClient) ListInstances(ctx context.Context, project, zone, filter string) ([]types.Instance, error) {
	if zone != "" {
		return c.listZone(ctx, project, zone, filter)
	}

	it := c.instances.AggregatedList(ctx, &computepb.AggregatedListInstancesRequest{
		Project:              project,
		Filter:               proto.String(filter),
		ReturnPartialSuccess: proto.Bool(true),
	})
	var out []types.Instance
	for {
		pair, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list instances: %w", err)
		}
		logScopeWarning(c.logger, pair.Key, pair.Value.GetWarning())
		for _, inst := range pair.Value.GetInstances() {
			out = append(out, toInstance(inst))
		}
	}
	c.logger.Debug("listed instances", zap.Int("count", len(out)), zap.String("filter", filter))
	return out, nil
}

func (c *ComputeClient) listZone(ctx context.Context, project, zone, filter string) ([]types.Instance, error) {
	it := c.instances.List(ctx, &computepb.ListInstancesRequest{
		Project: project,
		Zone:    zone,
		Filter:  proto.String(filter),
	})
	var out []types.Instance
	for {
		inst, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list instances in %s: %w", zone, err)
		}
		out = append(out, toInstance(inst))
	}
	c.logger.Debug("listed instances", zap.Int("count", len(out)), zap.String("zone", zone), zap.String("filter", filter))
	return out, nil
}

// DeleteInstance starts deletion and returns the pending zonal operation.
func (c *ComputeClient) DeleteInstance(ctx context.Context, project, zone, name string) (types.Operation, error) {
	op, err := c.instances.Delete(ctx, &computepb.DeleteInstanceRequest{
		Project:  project,
		Zone:     zone,
		Instance: name,
	})
	if err != nil {
		return nil, err
	}
	return computeOperation{op}, nil
}

type computeOperation struct {
	op *compute.Operation
}

func (o computeOperation) Wait(ctx context.Context) error {
	return o.op.Wait(ctx)
}

// logScopeWarning reports a scope the aggregated list could not fully read.
// Empty zones report NO_RESULTS_ON_PAGE and are not logged.
func logScopeWarning(logger *zap.Logger, scope string, w *computepb.Warning) {
	if w == nil || w.GetCode() == computepb.Warning_NO_RESULTS_ON_PAGE.String() {
		return
	}
	logger.Warn("instances in scope may be missing",
		zap.String("scope", scope),
		zap.String("code", w.GetCode()),
		zap.String("message", w.GetMessage()),
	)
}

func toInstance(inst *computepb.Instance) types.Instance {
	return types.Instance{
		Name:              inst.GetName(),
		Zone:              ShortZone(inst.GetZone()),
		CreationTimestamp: inst.GetCreationTimestamp(),
		Labels:            inst.GetLabels(),
	}
}

// ShortZone returns the last path segment of a zone URL.
func ShortZone(zone string) string {
	if i := strings.LastIndexByte(zone, '/'); i >= 0 {
		return zone[i+1:]
	}
	return zone
}
