package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

type redisSubscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *redisSubscription) stop() {
	s.cancel()
	s.ps.Close()
	<-s.done
}

// RedisPubSub implements PubSub on Redis PUBLISH/PSUBSCRIBE. Channel names
// are used as is, so room patterns match natively.
type RedisPubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client: client,
		subs:   make(map[string]*redisSubscription),
	}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.listen(ctx, channel, r.client.Subscribe(ctx, channel))
}

func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.listen(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

// listen waits for the server to confirm ps, so a publish right after
// subscribing is not missed, then pumps its messages into a new channel.
func (r *RedisPubSub) listen(ctx context.Context, key string, ps *redis.PubSub) (<-chan *Event, error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{ps: ps, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.subs[key]
	r.subs[key] = sub
	r.mu.Unlock()
	if prev != nil {
		prev.stop()
	}

	out := make(chan *Event, 100)
	go r.pump(subCtx, key, sub, out)
	return out, nil
}

func (r *RedisPubSub) pump(ctx context.Context, key string, sub *redisSubscription, out chan<- *Event) {
	defer func() {
		close(out)
		close(sub.done)
	}()

	l := log.L().With().Str("subscription", key).Logger()
	in := sub.ps.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}

		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			l.Warn().Err(err).Str("channel", msg.Channel).Msg("redis: dropping malformed event")
			continue
		}

		select {
		case out <- &event:
		case <-ctx.Done():
			return
		default:
			l.Warn().Str(log.FieldRoomID, event.RoomID).Msg("redis: subscriber buffer full, event dropped")
		}
	}
}

func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	sub, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()

	if ok {
		sub.stop()
	}
	return nil
}

// Close stops every subscription and closes the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*redisSubscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return r.client.Close()
}
