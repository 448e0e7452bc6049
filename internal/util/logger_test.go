package util

import (
	"context"
	"testing"

	"fulfillment-service/internal/reqctx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	LoggerFromContext(context.Background(), base).Info("bare")

	ctx := reqctx.WithRequestData(context.Background(), &reqctx.RequestData{RequestID: "req-1", ActorID: "cms-7"})
	LoggerFromContext(ctx, base).Info("tagged")

	require.Equal(t, 2, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "cms-7", fields["actor_id"])
}
