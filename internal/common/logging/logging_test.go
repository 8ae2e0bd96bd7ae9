package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
)

func TestNew_debugOverridesLevel(t *testing.T) {
	logger, err := New(Config{Level: "warn", Debug: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled with Debug=true")
	}
}

func TestNew_invalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestVersionLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	disabled := NewVersionLogger(logger, &config.Config{Version: "1.2.3", Environment: "test"})
	disabled.Log("tokenizing")
	if logs.Len() != 0 {
		t.Fatalf("disabled version logger wrote %d entries", logs.Len())
	}

	enabled := NewVersionLogger(logger, &config.Config{Version: "1.2.3", Environment: "test", VersionLogging: true})
	enabled.Log("tokenizing")
	if logs.Len() != 1 {
		t.Fatalf("enabled version logger wrote %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["version"]; got != "1.2.3 env:test" {
		t.Errorf("version field = %v", got)
	}
}
