package telemetry

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BridgeLogger returns a logger that writes to base's output and also emits
// every record at or above base's level to the OTLP log pipeline. base is
// returned unchanged when log export is disabled.
func BridgeLogger(base *zap.Logger, lp *LoggerProvider, scope string) *zap.Logger {
	if base == nil || !lp.IsEnabled() {
		return base
	}
	otelCore := otelzap.NewCore(scope, otelzap.WithLoggerProvider(lp.sdk))
	return base.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, minLevelCore{Core: otelCore, min: base.Level()})
	}))
}

// minLevelCore drops entries below min; the otelzap core itself accepts every level
type minLevelCore struct {
	zapcore.Core
	min zapcore.Level
}

func (c minLevelCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && c.Core.Enabled(lvl)
}

func (c minLevelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c minLevelCore) With(fields []zapcore.Field) zapcore.Core {
	return minLevelCore{Core: c.Core.With(fields), min: c.min}
}
