package kvstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisRelayAcrossStores(t *testing.T) {
	client := redisClient(t)
	origin := "test-" + uuid.NewString() + ".local"
	t.Cleanup(func() { client.Del(context.Background(), hashKey(origin)) })

	one := New(NewRedisBackend(client, nil), origin)
	defer one.Close()
	two := New(NewRedisBackend(client, nil), origin)
	defer two.Close()

	writer := one.Open()
	remote := two.Open()
	remoteEvents, _ := listen(remote)
	writerEvents, _ := listen(writer)

	if err := writer.Set("k", map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}

	ev := recv(t, remoteEvents)
	if ev.Key != "k" || ev.Source != writer.ID() {
		t.Fatalf("unexpected event %+v", ev)
	}
	expectNone(t, writerEvents)

	var got map[string]int
	if !remote.Get("k", &got) || got["n"] != 1 {
		t.Fatalf("remote read %v", got)
	}
}
