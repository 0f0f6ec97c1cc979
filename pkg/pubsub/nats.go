package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// channelToSubject maps a Redis-style channel or pattern onto a NATS subject.
// NATS tokens are dot separated and "*" already matches exactly one token.
//
//	"studyroom:room:R1:fanout" → "studyroom.room.R1.fanout"
func channelToSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

const flushTimeout = 2 * time.Second

type natsSubscription struct {
	sub  *nats.Subscription
	done chan struct{}
}

// NATSPubSub implements PubSub interface using core NATS subjects.
type NATSPubSub struct {
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	mu            sync.Mutex
}

// NewNATSPubSub connects to the NATS server at cfg.URL.
func NewNATSPubSub(cfg NATSConfig) (*NATSPubSub, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("nats disconnected")
			}
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSPubSub{
		conn:          nc,
		subscriptions: make(map[string]*natsSubscription),
	}, nil
}

// Publish publishes an event to the subject derived from channel.
func (n *NATSPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return n.conn.Publish(channelToSubject(channel), data)
}

// Subscribe subscribes to a specific channel.
func (n *NATSPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return n.subscribe(ctx, channel)
}

// SubscribePattern subscribes to channels matching a pattern.
func (n *NATSPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return n.subscribe(ctx, pattern)
}

func (n *NATSPubSub) subscribe(ctx context.Context, key string) (<-chan *Event, error) {
	msgCh := make(chan *nats.Msg, 100)
	sub, err := n.conn.ChanSubscribe(channelToSubject(key), msgCh)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}
	// Flush makes sure the server has registered the interest before we return.
	if err := n.conn.FlushTimeout(flushTimeout); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription %s: %w", key, err)
	}

	s := &natsSubscription{sub: sub, done: make(chan struct{})}

	n.mu.Lock()
	if existing, ok := n.subscriptions[key]; ok {
		existing.close()
	}
	n.subscriptions[key] = s
	n.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go n.processMessages(ctx, key, s, msgCh, eventCh)
	return eventCh, nil
}

func (n *NATSPubSub) processMessages(ctx context.Context, key string, s *natsSubscription, msgCh <-chan *nats.Msg, eventCh chan<- *Event) {
	defer close(eventCh)

	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-msgCh:
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				l.Warn().Err(err).Str("subject", msg.Subject).Msg("nats pubsub: dropping malformed event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
				l.Warn().Str("subscription", key).Msg("nats pubsub: subscriber buffer full, event dropped")
			}
		}
	}
}

func (s *natsSubscription) close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.sub.Unsubscribe()
}

// Unsubscribe unsubscribes from a channel or pattern.
func (n *NATSPubSub) Unsubscribe(ctx context.Context, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.subscriptions[channel]; ok {
		s.close()
		delete(n.subscriptions, channel)
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (n *NATSPubSub) Close() error {
	n.mu.Lock()
	for key, s := range n.subscriptions {
		s.close()
		delete(n.subscriptions, key)
	}
	n.mu.Unlock()

	n.conn.Close()
	return nil
}
