package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cafepos/internal/logger"
)

// DefaultChannel is the Redis pub/sub channel price updates travel on.
const DefaultChannel = "price-updates"

// RedisBroker shares price updates between several API instances over Redis
// pub/sub. Each instance relays what it receives into a local Hub, so a
// subscription costs one Redis connection per process, not per screen.
type RedisBroker struct {
	client  *redis.Client
	channel string
	local   *Hub
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRedisBroker connects using a redis:// URL and starts relaying.
func NewRedisBroker(ctx context.Context, url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisBroker(client, DefaultChannel), nil
}

func newRedisBroker(client *redis.Client, channel string) *RedisBroker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		client:  client,
		channel: channel,
		local:   NewHub(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	pubsub := client.Subscribe(ctx, channel)
	go b.relay(ctx, pubsub)
	return b
}

func (b *RedisBroker) relay(ctx context.Context, pubsub *redis.PubSub) {
	defer close(b.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u PriceUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				logger.LogWarn("Ignoring malformed price update on %s: %v", b.channel, err)
				continue
			}
			_ = b.local.Publish(ctx, u)
		}
	}
}

func (b *RedisBroker) Publish(ctx context.Context, u PriceUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode price update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish price update: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan PriceUpdate, func()) {
	return b.local.Subscribe(ctx)
}

// Close stops relaying and closes the Redis client.
func (b *RedisBroker) Close() error {
	b.cancel()
	<-b.done
	return b.client.Close()
}
