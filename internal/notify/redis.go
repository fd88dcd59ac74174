package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisChannel = "stockwatch:events"

// RedisChannel publishes JSON envelopes on a Redis pub/sub channel.
type RedisChannel struct {
	client  *goredis.Client
	channel string
}

// RedisOption customizes a RedisChannel.
type RedisOption func(*RedisChannel)

// WithRedisClient injects an existing client.
func WithRedisClient(client *goredis.Client) RedisOption {
	return func(r *RedisChannel) {
		if client != nil {
			r.client = client
		}
	}
}

// NewRedis builds a publisher from a redis:// or rediss:// URL.
func NewRedis(url, channel string, opts ...RedisOption) (*RedisChannel, error) {
	r := &RedisChannel{channel: strings.TrimSpace(channel)}
	if r.channel == "" {
		r.channel = defaultRedisChannel
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		options, err := goredis.ParseURL(strings.TrimSpace(url))
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		r.client = goredis.NewClient(options)
	}
	return r, nil
}

func (r *RedisChannel) Name() string { return "redis" }

// Ping checks the server is reachable.
func (r *RedisChannel) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *RedisChannel) Close() error {
	return r.client.Close()
}

// Envelope is the JSON document published for every event.
type Envelope struct {
	Kind          EventKind `json:"kind"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	ChangeType    string    `json:"change_type,omitempty"`
	Code          string    `json:"code,omitempty"`
	Price         *int64    `json:"price,omitempty"`
	InStock       *bool     `json:"in_stock,omitempty"`
	URL           string    `json:"url,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	RunID         int64     `json:"run_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// EnvelopeOf builds the published document for a message.
func EnvelopeOf(msg Message) Envelope {
	event := msg.Event
	env := Envelope{
		Kind:          event.Kind,
		Title:         msg.Title,
		Body:          msg.Body,
		URL:           msg.URL,
		RunID:         event.RunID,
		CorrelationID: event.CorrelationID,
		At:            msg.Timestamp.UTC(),
	}
	if env.Kind == "" {
		env.Kind = EventTest
	}
	if change := event.Change; change != nil {
		price := change.Payload.Price
		inStock := change.Payload.InStock
		env.ChangeType = string(change.Type)
		env.Code = change.Code
		env.Price = &price
		env.InStock = &inStock
	}
	if alert := event.Alert; alert != nil {
		env.Severity = string(alert.Severity)
	}
	return env
}

func (r *RedisChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(EnvelopeOf(msg))
	if err != nil {
		return permanent(r.Name(), fmt.Errorf("encode redis envelope: %w", err))
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return redisError(r.Name(), err)
	}
	return nil
}

// Server replies (WRONGTYPE, NOAUTH, ...) are permanent; connection and
// timeout failures are transient.
func redisError(channel string, err error) *DeliveryError {
	var replyErr goredis.Error
	if errors.As(err, &replyErr) {
		return permanent(channel, fmt.Errorf("redis publish: %w", err))
	}
	return transportError(channel, fmt.Errorf("redis publish: %w", err))
}
