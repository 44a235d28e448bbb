package firestore

import (
	"firestore-client/internal/shared/logger"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Logger is the structured logger every component writes through.
type Logger = logger.Logger

// NewLogrusLogger wraps l, or builds one from LOG_LEVEL and LOG_FORMAT when l is nil.
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		return logger.NewLogger()
	}
	return logger.FromLogrus(l)
}

// NewZapLogger adapts a zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	return logger.NewZapLogger(z)
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return logger.NewNopLogger()
}
