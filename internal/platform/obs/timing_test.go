package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTime_LogsJobAndError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	ctx := context.WithValue(context.Background(), JobIDKey, "job-1")
	err := errors.New("boom")
	func() {
		defer Time(ctx, logger, "solve")(&err)
	}()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "solve", fields["op"])
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, zap.ErrorLevel, entry.Level)
}

func TestTime_Success(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var err error
	func() {
		defer Time(context.Background(), zap.New(core), "noop")(&err)
	}()
	require.Equal(t, 1, logs.FilterMessage("operation done").Len())
}
