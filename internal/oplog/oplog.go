// Package oplog writes booking operation logs through zap.
package oplog

import (
	"context"
	"errors"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements booking.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New returns a ZapLogger; a nil logger discards every entry.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("booking")}
}

// LogOperation records one admission attempt. Capacity rejections and
// validation failures are expected outcomes and log at info; infrastructure
// failures log at error.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("source", entry.Source.String()),
	}
	if !entry.Date.IsZero() {
		fields = append(fields, zap.String("date", entry.Date.String()))
	}
	if entry.PartySize > 0 {
		fields = append(fields, zap.Int("people_count", entry.PartySize.Int()))
	}
	if entry.RequestID.IsSet() {
		fields = append(fields, zap.String("request_id", entry.RequestID.String()))
	}
	if id := entry.ReservationID.String(); id != "" {
		fields = append(fields, zap.String("reservation_id", id))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	zapLogger.logger.Log(levelFor(entry.Error), "booking operation", fields...)
}

func levelFor(err error) zapcore.Level {
	switch {
	case err == nil:
		return zapcore.InfoLevel
	case errors.Is(err, booking.ErrCapacityExceeded), errors.Is(err, booking.ErrValidation):
		return zapcore.InfoLevel
	case errors.Is(err, booking.ErrStoreUnavailable):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
