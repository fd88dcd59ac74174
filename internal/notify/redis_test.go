package notify_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"stockwatch/internal/notify"
)

func TestRedisChannelPublishesEnvelope(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic := "stockwatch-test-" + uuid.NewString()
	ch, err := notify.NewRedis("redis://"+addr, topic)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer ch.Close()
	if err := ch.Ping(ctx); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	sub := goredis.NewClient(&goredis.Options{Addr: addr})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, topic)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := ch.Send(ctx, notify.Render(notify.ChangeEvent(priceChange(), 2, "cid"))); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := pubsub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var env notify.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Code != "ABC-1" || env.ChangeType != "PRICE_UPDATE" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := notify.NewRedis("http://nope", ""); err == nil {
		t.Fatal("expected error for non-redis URL")
	}
}
