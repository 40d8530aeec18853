package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerAdapter hands out loggers that write to the general output and,
// when a multi-logger is configured, to the matching category file. Error
// level entries from any category also land in the error file.
type LoggerAdapter struct {
	general *zap.Logger
	multi   *MultiLogger
}

// NewLoggerAdapter creates a new logger adapter. multi may be nil.
func NewLoggerAdapter(general *zap.Logger, multi *MultiLogger) *LoggerAdapter {
	if general == nil {
		general = zap.NewNop()
	}
	return &LoggerAdapter{general: general, multi: multi}
}

// NewSingleLoggerAdapter creates an adapter that only writes to logger
func NewSingleLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	return NewLoggerAdapter(logger, nil)
}

// General returns the general logger
func (la *LoggerAdapter) General() *zap.Logger {
	return la.general
}

// Job returns the logger for job lifecycle events
func (la *LoggerAdapter) Job() *zap.Logger {
	return la.category(CategoryJob)
}

// Connection returns the logger for observer connection events
func (la *LoggerAdapter) Connection() *zap.Logger {
	return la.category(CategoryConnection)
}

// Error returns the error logger
func (la *LoggerAdapter) Error() *zap.Logger {
	if la.multi == nil {
		return la.general
	}
	return zap.New(zapcore.NewTee(la.general.Core(), la.multi.Error().Core()))
}

func (la *LoggerAdapter) category(category LogCategory) *zap.Logger {
	if la.multi == nil {
		return la.general.With(zap.String("category", string(category)))
	}
	core := zapcore.NewTee(
		la.general.Core(),
		la.multi.GetLogger(category).Core(),
		la.multi.Error().Core(),
	)
	return zap.New(core).With(zap.String("category", string(category)))
}

// Sync flushes all loggers
func (la *LoggerAdapter) Sync() error {
	err := la.general.Sync()
	if la.multi != nil {
		if mErr := la.multi.Sync(); mErr != nil {
			err = mErr
		}
	}
	return err
}
