package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub on Redis PUBLISH/SUBSCRIBE.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	mu            sync.Mutex
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisPubSubFromClient(client), nil
}

// NewRedisPubSubFromClient wraps an existing client.
func NewRedisPubSubFromClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
	}
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a channel and returns once Redis has
// confirmed the subscription, so nothing published afterwards is missed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subscriptions[channel]; ok {
		existing.Close()
	}

	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.subscriptions[channel] = ps

	eventCh := make(chan *Event, 100)
	go r.processMessages(ctx, ps, eventCh)

	return eventCh, nil
}

// Unsubscribe unsubscribes from a channel.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.subscriptions[channel]; ok {
		delete(r.subscriptions, channel)
		return ps.Close()
	}
	return nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ps := range r.subscriptions {
		ps.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)

	return r.client.Close()
}

// processMessages decodes Redis messages into events until the
// subscription or ctx ends. The output channel is closed on return.
func (r *RedisPubSub) processMessages(ctx context.Context, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}
		}
	}
}
