package rediscache

import (
	"context"
	"time"

	"checkout-service/internal/infra"

	"github.com/go-redis/redis/v8"
)

const notificationPrefix = "webhook:processed:"

// NotificationLog keeps processed webhook keys in redis for ttl.
type NotificationLog struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ infra.NotificationLog = (*NotificationLog)(nil)

func NewNotificationLog(rdb *redis.Client, ttl time.Duration) *NotificationLog {
	return &NotificationLog{rdb: rdb, ttl: ttl}
}

func (l *NotificationLog) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, notificationPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *NotificationLog) Mark(ctx context.Context, key string) error {
	return l.rdb.Set(ctx, notificationPrefix+key, time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}
