package services

import (
	"testing"

	"cloud.google.com/go/compute/apiv1/computepb"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/proto"
)

func TestLogScopeWarning(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	logScopeWarning(logger, "zones/us-east1-b", nil)
	logScopeWarning(logger, "zones/us-east1-c", &computepb.Warning{
		Code:    proto.String(computepb.Warning_NO_RESULTS_ON_PAGE.String()),
		Message: proto.String("There are no results for scope 'zones/us-east1-c' on this page."),
	})
	if logs.Len() != 0 {
		t.Fatalf("expected no logs for empty scopes, got %d", logs.Len())
	}

	logScopeWarning(logger, "zones/us-east1-d", &computepb.Warning{
		Code:    proto.String(computepb.Warning_UNREACHABLE.String()),
		Message: proto.String("zone unreachable"),
	})
	entries := logs.FilterLevelExact(zap.WarnLevel).All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["scope"] != "zones/us-east1-d" || fields["code"] != "UNREACHABLE" {
		t.Errorf("unexpected fields %v", fields)
	}
}
