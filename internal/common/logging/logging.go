// Package logging provides structured logging configuration.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
)

// Config holds logging configuration options.
type Config struct {
	Service string
	Level   string // debug|info|warn|error
	Format  string // json|console
	Debug   bool   // forces debug level
}

// FromConfig derives logging options from the process configuration.
func FromConfig(cfg *config.Config, service string) Config {
	return Config{
		Service: service,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Debug:   cfg.DebugLogging,
	}
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	var zcfg zap.Config
	if strings.ToLower(cfg.Format) == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	if cfg.Service != "" {
		logger = logger.With(zap.String("service", cfg.Service))
	}
	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// VersionLogger writes the running build version when enabled. It links log
// output of a particular invocation to the code that produced it.
type VersionLogger struct {
	logger  *zap.Logger
	version string
	enabled bool
}

func NewVersionLogger(logger *zap.Logger, cfg *config.Config) *VersionLogger {
	return &VersionLogger{logger: logger, version: cfg.AppVersion(), enabled: cfg.VersionLogging}
}

// Log emits msg with the version attached. It is a no-op when version logging is off.
func (v *VersionLogger) Log(msg string) {
	if v == nil || !v.enabled {
		return
	}
	v.logger.Info(msg, zap.String("version", v.version))
}

// Port returns a zap field for a listen port.
func Port(port string) zap.Field { return zap.String("port", port) }

// Project returns a zap field for a cloud project id.
func Project(id string) zap.Field { return zap.String("project_id", id) }

// Instance returns a zap field for a compute instance name.
func Instance(name string) zap.Field { return zap.String("instance", name) }

// Zone returns a zap field for a compute zone.
func Zone(zone string) zap.Field { return zap.String("zone", zone) }

// UserID returns a zap field for the tokenization subject.
func UserID(id string) zap.Field { return zap.String("user_id", id) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }
