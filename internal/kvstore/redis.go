package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBackend keeps one hash per origin and relays storage events over
// pub/sub, so API processes sharing a redis see each other's writes.
type RedisBackend struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisBackend(client *redis.Client, logger *zap.SugaredLogger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisBackend{client: client, logger: logger}
}

func hashKey(origin string) string { return "wecare:kv:" + origin }

func eventChannel(origin string) string { return "wecare:storage:" + origin }

func (b *RedisBackend) Load(ctx context.Context, origin, key string) ([]byte, bool, error) {
	v, err := b.client.HGet(ctx, hashKey(origin), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, origin, key string, value []byte) error {
	return b.client.HSet(ctx, hashKey(origin), key, value).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, origin, key string) error {
	return b.client.HDel(ctx, hashKey(origin), key).Err()
}

func (b *RedisBackend) Keys(ctx context.Context, origin string) ([]string, error) {
	return b.client.HKeys(ctx, hashKey(origin)).Result()
}

func (b *RedisBackend) Usage(ctx context.Context, origin string) (int64, error) {
	all, err := b.client.HGetAll(ctx, hashKey(origin)).Result()
	if err != nil {
		return 0, err
	}
	var n int64
	for k, v := range all {
		n += int64(len(k) + len(v))
	}
	return n, nil
}

func (b *RedisBackend) Announce(ctx context.Context, ev StorageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode storage event: %w", err)
	}
	return b.client.Publish(ctx, eventChannel(ev.Origin), payload).Err()
}

func (b *RedisBackend) Subscribe(ctx context.Context, origin string, fn func(StorageEvent)) (func(), error) {
	sub := b.client.Subscribe(ctx, eventChannel(origin))
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", eventChannel(origin), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			var ev StorageEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warnw("Dropping undecodable storage event", "channel", msg.Channel, "error", err)
				continue
			}
			fn(ev)
		}
	}()

	return func() {
		sub.Close()
		<-done
	}, nil
}
