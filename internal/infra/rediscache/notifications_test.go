package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, ttl time.Duration) (*NotificationLog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewNotificationLog(rdb, ttl), mr
}

func TestNotificationLog_SeenAfterMark(t *testing.T) {
	l, _ := newTestLog(t, time.Hour)
	ctx := context.Background()

	seen, err := l.Seen(ctx, "payment:1:approved")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark(ctx, "payment:1:approved"))

	seen, err = l.Seen(ctx, "payment:1:approved")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, "payment:1:pending")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNotificationLog_Expires(t *testing.T) {
	l, mr := newTestLog(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Mark(ctx, "payment:2:approved"))
	mr.FastForward(2 * time.Minute)

	seen, err := l.Seen(ctx, "payment:2:approved")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNotificationLog_RedisDown(t *testing.T) {
	l, mr := newTestLog(t, time.Minute)
	mr.Close()

	_, err := l.Seen(context.Background(), "payment:3:approved")
	assert.Error(t, err)
}
