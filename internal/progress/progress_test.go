package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitMonotonicPerAction(t *testing.T) {
	r := NewRedisReporter(nil, time.Nanosecond, zerolog.Nop())

	assert.True(t, r.admit(Update{SourceID: 1, Action: ActionDownloading, Progress: 10}))
	time.Sleep(time.Millisecond)
	assert.True(t, r.admit(Update{SourceID: 1, Action: ActionDownloading, Progress: 50}))
	// Reordered percent is dropped.
	assert.False(t, r.admit(Update{SourceID: 1, Action: ActionDownloading, Progress: 40}))
	// A different action tracks its own percent.
	assert.True(t, r.admit(Update{SourceID: 1, Action: ActionParsing, Progress: 5}))
}

func TestAdmitThrottlesIntermediateTicks(t *testing.T) {
	r := NewRedisReporter(nil, time.Hour, zerolog.Nop())

	assert.True(t, r.admit(Update{SourceID: 2, Action: ActionDownloading, Progress: 1}))
	assert.False(t, r.admit(Update{SourceID: 2, Action: ActionDownloading, Progress: 2}))
	// Terminal updates always pass.
	assert.True(t, r.admit(Update{SourceID: 2, Action: ActionDownloading, Progress: 100}))
	// After a terminal update, the stream state resets.
	assert.True(t, r.admit(Update{SourceID: 2, Action: ActionDownloading, Progress: 0}))
}

func TestAdmitErrorStatusAlwaysPasses(t *testing.T) {
	r := NewRedisReporter(nil, time.Hour, zerolog.Nop())

	assert.True(t, r.admit(Update{SourceID: 3, Action: ActionDownloading, Progress: 1}))
	assert.True(t, r.admit(Update{SourceID: 3, Action: ActionDownloading, Progress: 2, Status: "error", Message: "boom"}))
}

func TestReportPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, ChannelFor(9))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	r := NewRedisReporter(rdb, time.Nanosecond, zerolog.Nop())
	r.Report(ctx, Update{SourceID: 9, Action: ActionParsing, Progress: 100, StreamsCreated: 2})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Update
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, int64(9), got.SourceID)
	assert.Equal(t, float64(100), got.Progress)
	assert.Equal(t, 2, got.StreamsCreated)
}
