package bridge

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shravanisdakve/NexusAI-sub002/pkg/pubsub"
)

// bus is an in-process PubSub with glob pattern matching.
type bus struct {
	mu   sync.Mutex
	subs map[string][]chan *pubsub.Event
}

func newBus() *bus {
	return &bus{subs: make(map[string][]chan *pubsub.Event)}
}

func (b *bus) Publish(_ context.Context, channel string, ev *pubsub.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, chans := range b.subs {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, ch := range chans {
			ch <- ev
		}
	}
	return nil
}

func (b *bus) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	return b.SubscribePattern(ctx, channel)
}

func (b *bus) SubscribePattern(_ context.Context, pattern string) (<-chan *pubsub.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *pubsub.Event, 64)
	b.subs[pattern] = append(b.subs[pattern], ch)
	return ch, nil
}

func (b *bus) Unsubscribe(context.Context, string) error { return nil }
func (b *bus) Close() error                              { return nil }

type sent struct {
	roomID  string
	data    string
	exclude string
}

type localHub struct {
	mu  sync.Mutex
	got []sent
}

func (h *localHub) Join(string, string) error  { return nil }
func (h *localHub) Leave(string, string)       {}
func (h *localHub) SendTo(string, []byte) bool { return true }
func (h *localHub) Broadcast(roomID string, data []byte, exclude string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, sent{roomID: roomID, data: string(data), exclude: exclude})
	return 1
}

func (h *localHub) received() []sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sent(nil), h.got...)
}

func TestBridge_MirrorsBroadcastsToOtherInstances(t *testing.T) {
	shared := newBus()
	hubA, hubB := &localHub{}, &localHub{}
	a := New(hubA, shared, "instance-a", 16)
	b := New(hubB, shared, "instance-b", 16)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	defer a.Close()
	defer b.Close()

	assert.Equal(t, 1, a.Broadcast("r1", []byte(`{"type":"chat_message","n":1}`), "conn-1"))
	a.Broadcast("r1", []byte(`{"type":"chat_message","n":2}`), "")

	require.Eventually(t, func() bool { return len(hubB.received()) == 2 }, time.Second, 5*time.Millisecond)
	got := hubB.received()
	assert.Equal(t, "r1", got[0].roomID)
	assert.JSONEq(t, `{"type":"chat_message","n":1}`, got[0].data)
	assert.Equal(t, "conn-1", got[0].exclude)
	assert.JSONEq(t, `{"type":"chat_message","n":2}`, got[1].data)

	// the origin instance only saw its own local deliveries
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, hubA.received(), 2)
}

func TestBridge_IgnoresForeignEventTypes(t *testing.T) {
	hub := &localHub{}
	b := New(hub, newBus(), "instance-a", 4)

	ev, err := pubsub.NewEvent("something_else", "r1", "instance-b", map[string]string{"x": "y"})
	require.NoError(t, err)
	b.deliver(ev)

	ev, err = pubsub.NewEvent(pubsub.EventRoomFanout, "r1", "instance-b", []byte(`"not an object"`))
	require.NoError(t, err)
	b.deliver(ev)

	assert.Empty(t, hub.received())
}

func TestBridge_FullQueueStillDeliversLocally(t *testing.T) {
	hub := &localHub{}
	b := New(hub, newBus(), "instance-a", 1)

	// not started, so nothing drains the queue
	b.Broadcast("r1", []byte(`{"n":1}`), "")
	b.Broadcast("r1", []byte(`{"n":2}`), "")

	assert.Len(t, hub.received(), 2)
	assert.Len(t, b.queue, 1)
}

func TestBridge_CloseFlushesQueue(t *testing.T) {
	shared := newBus()
	remote, err := shared.SubscribePattern(context.Background(), pubsub.PatternRoomFanout)
	require.NoError(t, err)

	b := New(&localHub{}, shared, "instance-a", 8)
	for i := 0; i < 3; i++ {
		b.Broadcast("r1", []byte(`{}`), "")
	}
	require.NoError(t, b.Start(context.Background()))
	b.Close()

	assert.Len(t, remote, 3)
}
