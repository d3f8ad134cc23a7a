package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerNotifierOmitsData(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLoggerNotifier(zap.New(core))

	require.NoError(t, n.Send(context.Background(), Message{
		Kind:        KindAuthToken,
		Destination: "user-1",
		Data:        map[string]string{"token": "secret"},
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, KindAuthToken, fields["kind"])
	assert.Equal(t, int64(1), fields["data_fields"])
	assert.NotContains(t, fields, "token")
}

func TestRecorderFiltersByKind(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	_ = r.Send(ctx, Message{Kind: KindTip})
	_ = r.Send(ctx, Message{Kind: KindAuthToken})

	assert.Len(t, r.Messages(KindTip), 1)

	r.Fail(errors.New("down"))
	assert.Error(t, r.Send(ctx, Message{Kind: KindTip}))
	assert.Len(t, r.Messages(KindTip), 1)
}
