// Package bridge mirrors room fan-out between service instances.
//
// A Bridge wraps the local transport. Every local broadcast is also
// published on the room's fan-out channel, and fan-out published by other
// instances is replayed on the local transport. Direct sends and topic
// membership stay local.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/internal/room"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/pubsub"
)

const (
	directionOut = "out"
	directionIn  = "in"

	resultOK      = "ok"
	resultError   = "error"
	resultDropped = "dropped"
)

type fanout struct {
	Data    json.RawMessage `json:"data"`
	Exclude string          `json:"exclude,omitempty"`
}

type Bridge struct {
	local  room.Broadcaster
	ps     pubsub.PubSub
	origin string
	queue  chan *pubsub.Event
	logger zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ room.Broadcaster = (*Bridge)(nil)

// New wraps local. origin must be unique per instance.
func New(local room.Broadcaster, ps pubsub.PubSub, origin string, queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Bridge{
		local:  local,
		ps:     ps,
		origin: origin,
		queue:  make(chan *pubsub.Event, queueSize),
		logger: log.L().With().Str(log.FieldInstance, origin).Logger(),
	}
}

// Start subscribes to remote fan-out and starts the publisher.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := b.ps.SubscribePattern(ctx, pubsub.PatternRoomFanout)
	if err != nil {
		cancel()
		return err
	}
	b.cancel = cancel

	b.wg.Add(2)
	go b.publishLoop(ctx)
	go b.receiveLoop(ctx, events)
	b.logger.Info().Msg("room bridge started")
	return nil
}

// Close stops both loops. Events still queued are published first.
func (b *Bridge) Close() {
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
	})
}

func (b *Bridge) Join(roomID, connID string) error {
	return b.local.Join(roomID, connID)
}

func (b *Bridge) Leave(roomID, connID string) {
	b.local.Leave(roomID, connID)
}

func (b *Bridge) SendTo(connID string, data []byte) bool {
	return b.local.SendTo(connID, data)
}

// Broadcast delivers locally and queues the frame for other instances. It
// never blocks; a full queue drops the remote copy.
func (b *Bridge) Broadcast(roomID string, data []byte, exclude string) int {
	n := b.local.Broadcast(roomID, data, exclude)

	ev, err := pubsub.NewEvent(pubsub.EventRoomFanout, roomID, b.origin, fanout{Data: data, Exclude: exclude})
	if err != nil {
		metrics.BridgeEvents.WithLabelValues(directionOut, resultError).Inc()
		b.logger.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to encode fanout")
		return n
	}
	select {
	case b.queue <- ev:
	default:
		metrics.BridgeEvents.WithLabelValues(directionOut, resultDropped).Inc()
		b.logger.Warn().Str(log.FieldRoomID, roomID).Msg("bridge queue full, fanout dropped")
	}
	return n
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.publish(context.Background(), ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.queue:
					b.publish(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, ev *pubsub.Event) {
	if err := b.ps.Publish(ctx, pubsub.RoomFanoutChannel(ev.RoomID), ev); err != nil {
		metrics.BridgeEvents.WithLabelValues(directionOut, resultError).Inc()
		b.logger.Warn().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("fanout publish failed")
		return
	}
	metrics.BridgeEvents.WithLabelValues(directionOut, resultOK).Inc()
}

func (b *Bridge) receiveLoop(ctx context.Context, events <-chan *pubsub.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.deliver(ev)
		}
	}
}

func (b *Bridge) deliver(ev *pubsub.Event) {
	if ev.Origin == b.origin || ev.Type != pubsub.EventRoomFanout {
		return
	}
	var f fanout
	if err := ev.UnmarshalPayload(&f); err != nil {
		metrics.BridgeEvents.WithLabelValues(directionIn, resultError).Inc()
		b.logger.Warn().Err(err).Str(log.FieldRoomID, ev.RoomID).Msg("malformed fanout event")
		return
	}
	b.local.Broadcast(ev.RoomID, f.Data, f.Exclude)
	metrics.BridgeEvents.WithLabelValues(directionIn, resultOK).Inc()
}
