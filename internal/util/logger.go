package util

import (
	"context"

	"fulfillment-service/internal/reqctx"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger
func InitLogger(env string) error {
	var err error
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err = config.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// LoggerFromContext returns l annotated with the request and actor ids carried by ctx, if any.
func LoggerFromContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	rd := reqctx.GetRequestData(ctx)
	var fields []zap.Field
	if rd.RequestID != "" {
		fields = append(fields, zap.String("request_id", rd.RequestID))
	}
	if rd.ActorID != "" {
		fields = append(fields, zap.String("actor_id", rd.ActorID))
	}
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
