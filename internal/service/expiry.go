package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/repository"
	"connection_coordinator/pkg/logger"
)

// ExpiryNotifier turns room TTL expiry into an observable event. The Redis
// implementation rides keyspace notifications; the polling implementation is
// the fallback for cache backends without them. Either way the registered
// callback sees each expired room id.
type ExpiryNotifier interface {
	// Start launches the background listener. Calling it twice is a no-op.
	Start(ctx context.Context) error
}

type redisExpiryNotifier struct {
	rdb      *redis.Client
	db       int
	callback func(roomID string)
	log      logger.Logger
	started  sync.Once
}

func NewRedisExpiryNotifier(rdb *redis.Client, db int, callback func(roomID string), log logger.Logger) ExpiryNotifier {
	return &redisExpiryNotifier{
		rdb:      rdb,
		db:       db,
		callback: callback,
		log:      log,
	}
}

func (n *redisExpiryNotifier) Start(ctx context.Context) error {
	var startErr error
	n.started.Do(func() {
		// Expired-key events are off by default. A failure here is not
		// fatal; the polling sweep keeps cleanup correct, just slower.
		if err := n.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
			n.log.Warn("Failed to enable keyspace notifications, relying on sweep fallback", "error", err)
		}

		go n.listen(ctx)
	})
	return startErr
}

func (n *redisExpiryNotifier) listen(ctx context.Context) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", n.db)

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := n.rdb.PSubscribe(ctx, channel)
		n.log.Info("Expiry listener subscribed", "channel", channel)

		n.consume(ctx, pubsub)
		pubsub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
			n.log.Warn("Expiry listener reconnecting", "channel", channel)
		}
	}
}

func (n *redisExpiryNotifier) consume(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			roomID, ok := repository.RoomIDFromMarkerKey(msg.Payload)
			if !ok {
				continue
			}
			n.log.Debug("Room expiry marker fired", "room_id", roomID)
			n.callback(roomID)
		}
	}
}

type pollingExpiryNotifier struct {
	rdb      *redis.Client
	interval time.Duration
	callback func(roomID string)
	log      logger.Logger
	started  sync.Once
}

// NewPollingExpiryNotifier scans for rooms whose expiry marker has vanished
// while the record lingers in its grace window. Timeliness degrades to the
// poll interval; eventual cleanup is preserved.
func NewPollingExpiryNotifier(rdb *redis.Client, interval time.Duration, callback func(roomID string), log logger.Logger) ExpiryNotifier {
	return &pollingExpiryNotifier{
		rdb:      rdb,
		interval: interval,
		callback: callback,
		log:      log,
	}
}

func (n *pollingExpiryNotifier) Start(ctx context.Context) error {
	n.started.Do(func() {
		go n.loop(ctx)
	})
	return nil
}

func (n *pollingExpiryNotifier) loop(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweep(ctx)
		}
	}
}

func (n *pollingExpiryNotifier) sweep(ctx context.Context) {
	iter := n.rdb.Scan(ctx, 0, repository.RoomScanPattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":members") {
			continue
		}
		roomID := strings.TrimPrefix(key, strings.TrimSuffix(repository.RoomKeyPrefix, "%s"))

		exists, err := n.rdb.Exists(ctx, fmt.Sprintf(repository.RoomMarkerKeyPrefix, roomID)).Result()
		if err != nil {
			n.log.Error("Polling sweep marker check failed", "error", err, "room_id", roomID)
			continue
		}
		if exists == 0 {
			n.callback(roomID)
		}
	}
	if err := iter.Err(); err != nil {
		n.log.Error("Polling sweep scan failed", "error", err)
	}
}
