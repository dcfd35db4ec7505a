package obs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const (
	RequestIDKey ctxKey = "req_id"
	JobIDKey     ctxKey = "job_id"
)

// Time logs the duration of an operation once the returned func is deferred
// with a pointer to the operation's error.
func Time(ctx context.Context, logger *zap.Logger, name string) func(errp *error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}

	fields := []zap.Field{zap.String("op", name)}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		fields = append(fields, zap.String("req_id", reqID))
	}
	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		fields = append(fields, zap.String("job_id", jobID))
	}

	return func(errp *error) {
		fields := append(fields, zap.Int64("dur_ms", time.Since(start).Milliseconds()))
		if errp != nil && *errp != nil {
			logger.Error("operation failed", append(fields, zap.Error(*errp))...)
			return
		}
		logger.Info("operation done", fields...)
	}
}
