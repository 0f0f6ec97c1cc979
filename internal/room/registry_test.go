package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
)

const roomID = "room-1"

type fixture struct {
	reg       *Registry
	rooms     *memRooms
	messages  *memMessages
	transport *recorder
	sched     *countingScheduler
}

func newFixture(t *testing.T, cfg Config, room *domain.Room) *fixture {
	t.Helper()
	engine, err := moderation.NewEngine()
	require.NoError(t, err)

	if room == nil {
		room = &domain.Room{ID: roomID, Name: "Calculus", Active: true}
	}
	f := &fixture{
		rooms:     newMemRooms(room),
		messages:  &memMessages{},
		transport: newRecorder(),
		sched:     &countingScheduler{},
	}
	f.reg = NewRegistry(cfg, f.rooms, f.messages, f.transport, engine)
	f.reg.UseScheduler(f.sched)
	t.Cleanup(f.reg.Close)
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PersistBackoff = time.Millisecond
	cfg.IdleTimeout = 0
	return cfg
}

func (f *fixture) join(t *testing.T, connID, userID string) Sender {
	t.Helper()
	s := Sender{ConnID: connID, UserID: userID, DisplayName: strings.ToUpper(userID)}
	_, err := f.reg.Join(context.Background(), roomID, connID, domain.Participant{UserID: userID, DisplayName: s.DisplayName})
	require.NoError(t, err)
	return s
}

func (f *fixture) submit(t *testing.T, s Sender, body string) domain.Message {
	t.Helper()
	msg, err := f.reg.Submit(context.Background(), roomID, s, body, domain.KindText)
	require.NoError(t, err)
	return msg
}

func (f *fixture) activity(t *testing.T) int {
	t.Helper()
	n, err := f.reg.ActivityCount(context.Background(), roomID)
	require.NoError(t, err)
	return n
}

func TestRegistry_JoinBroadcastsSnapshot(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.join(t, "c1", "alice")
	f.join(t, "c2", "bob")

	snaps := f.transport.ofType(roomID, domain.MsgTypeRoomSnapshot)
	require.Len(t, snaps, 2)

	var last domain.RoomSnapshotMessage
	require.NoError(t, json.Unmarshal(snaps[1].data, &last))
	assert.Equal(t, "Calculus", last.Room.Name)
	require.Len(t, last.Room.Live, 2)
	assert.Equal(t, "alice", last.Room.Live[0].UserID)
	assert.Equal(t, "bob", last.Room.Live[1].UserID)

	stored := f.rooms.get(roomID)
	require.Len(t, stored.Participants, 2)
	assert.Equal(t, "alice", stored.Participants[0].UserID)
}

func TestRegistry_JoinUnknownRoom(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, err := f.reg.Join(context.Background(), "missing", "c1", domain.Participant{UserID: "alice"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRegistry_ConnectionsShareOneParticipant(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.join(t, "tab-1", "alice")
	f.join(t, "tab-2", "alice")

	snap, err := f.reg.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	require.Len(t, snap.Live, 1)
	assert.Equal(t, 2, snap.Live[0].Connections)

	require.NoError(t, f.reg.Leave(context.Background(), roomID, "tab-1"))
	snap, err = f.reg.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	require.Len(t, snap.Live, 1)
	assert.Equal(t, 1, snap.Live[0].Connections)

	require.NoError(t, f.reg.Leave(context.Background(), roomID, "tab-2"))
	snap, err = f.reg.Snapshot(context.Background(), roomID)
	require.NoError(t, err)
	assert.Empty(t, snap.Live)
	assert.Len(t, snap.Participants, 1)
}

func TestRegistry_ConcurrentJoinsAppendOnce(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reg.Join(context.Background(), roomID, fmt.Sprintf("c%d", i), domain.Participant{UserID: "alice"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.rooms.appends)
	assert.Equal(t, 1, f.rooms.gets)
	assert.Equal(t, 1, f.reg.LoadedRooms())
	assert.Len(t, f.rooms.get(roomID).Participants, 1)
}

func TestRegistry_Capacity(t *testing.T) {
	f := newFixture(t, testConfig(), &domain.Room{ID: roomID, Name: "Small", Capacity: 1, Active: true})
	f.join(t, "c1", "alice")

	_, err := f.reg.Join(context.Background(), roomID, "c2", domain.Participant{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// another tab of a live user does not count against capacity
	f.join(t, "c3", "alice")
}

func TestRegistry_DisputeGetsModeratorNudge(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	a := f.join(t, "c1", "alice")

	msg := f.submit(t, a, "you're wrong, this professor is an idiot")

	stored := f.messages.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	chats := f.transport.ofType(roomID, domain.MsgTypeChatMessage)
	require.Len(t, chats, 1)

	systems := f.transport.ofType(roomID, domain.MsgTypeSystemMessage)
	require.Len(t, systems, 1)
	var sys domain.SystemMessageOut
	require.NoError(t, json.Unmarshal(systems[0].data, &sys))
	assert.Equal(t, domain.SystemActionDisputeNudge, sys.Action)
	assert.Equal(t, msg.ID, sys.ReplyTo)
	assert.Equal(t, domain.ModeratorID, sys.SenderID)
	assert.NotEmpty(t, sys.Content)

	assert.Equal(t, 1, f.activity(t))
}

func TestRegistry_ReflexRejectsBeforeAnythingHappens(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	b := f.join(t, "c1", "bob")

	_, err := f.reg.Submit(context.Background(), roomID, b, "free answers at https://spam.example/x", domain.KindText)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRejectedByModeration)

	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.NotEmpty(t, rej.Text)

	assert.Empty(t, f.messages.stored())
	assert.Empty(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage))
	assert.Equal(t, 0, f.activity(t))
}

func TestRegistry_ConfusionSchedulesImmediately(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	c := f.join(t, "c1", "carol")

	f.submit(t, c, "hello everyone")
	f.submit(t, c, "ready when you are")
	assert.Equal(t, 2, f.activity(t))

	f.submit(t, c, "stuck on module 3, can someone explain?")

	scheduled, _ := f.sched.counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 0, f.activity(t))
	assert.Len(t, f.messages.stored(), 3)
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage), 3)
}

func TestRegistry_ThresholdSchedulesIntervention(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.join(t, "c1", "alice")

	for i := 0; i < 6; i++ {
		f.submit(t, s, fmt.Sprintf("note %d", i))
	}
	scheduled, _ := f.sched.counts()
	assert.Equal(t, 0, scheduled)
	assert.Equal(t, 6, f.activity(t))

	f.submit(t, s, "note 6")
	scheduled, _ = f.sched.counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 0, f.activity(t))

	f.submit(t, s, "note 7")
	assert.Equal(t, 1, f.activity(t))
}

func TestRegistry_PersistFailureBroadcastsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.PersistAttempts = 2
	f := newFixture(t, cfg, nil)
	f.messages.failAll = true
	s := f.join(t, "c1", "alice")

	_, err := f.reg.Submit(context.Background(), roomID, s, "hello", domain.KindText)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailure)

	assert.Equal(t, 2, f.messages.attempts)
	assert.Empty(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage))
	assert.Equal(t, 0, f.activity(t))
}

func TestRegistry_PersistRetrySucceeds(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.messages.failN = 1
	s := f.join(t, "c1", "alice")

	msg := f.submit(t, s, "hello")
	stored := f.messages.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage), 1)
}

func TestRegistry_SenderLearnsOutcomeAfterDeadline(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.join(t, "c1", "alice")
	f.messages.gate = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		<-ctx.Done()
		close(f.messages.gate)
	}()

	msg, err := f.reg.Submit(ctx, roomID, s, "hello", domain.KindText)
	require.NoError(t, err, "the message was stored and broadcast")
	assert.NotEmpty(t, msg.ID)
	assert.Len(t, f.messages.stored(), 1)
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage), 1)
}

func TestRegistry_BroadcastOrderMatchesStoreOrder(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	senders := make([]Sender, 5)
	for i := range senders {
		senders[i] = f.join(t, fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := f.reg.Submit(context.Background(), roomID, s, fmt.Sprintf("msg %d", j), domain.KindText)
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	stored := f.messages.stored()
	chats := f.transport.ofType(roomID, domain.MsgTypeChatMessage)
	require.Len(t, stored, 50)
	require.Len(t, chats, 50)
	for i, frame := range chats {
		var out domain.ChatMessageOut
		require.NoError(t, json.Unmarshal(frame.data, &out))
		assert.Equal(t, stored[i].ID, out.MessageID)
	}
}

func TestRegistry_SubmitValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageLength = 10
	f := newFixture(t, cfg, nil)
	s := f.join(t, "c1", "alice")
	ctx := context.Background()

	_, err := f.reg.Submit(ctx, roomID, s, "   ", domain.KindText)
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = f.reg.Submit(ctx, roomID, s, "this is far too long", domain.KindText)
	assert.ErrorIs(t, err, domain.ErrMessageTooLong)

	_, err = f.reg.Submit(ctx, roomID, s, "hi", domain.KindSystem)
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = f.reg.Submit(ctx, roomID, Sender{ConnID: "stranger", UserID: "eve"}, "hi", domain.KindText)
	assert.ErrorIs(t, err, domain.ErrNotInRoom)

	msg, err := f.reg.Submit(ctx, roomID, s, "  hi  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, domain.KindText, msg.Kind)
}

func TestRegistry_ImageReferences(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.join(t, "c1", "alice")
	ctx := context.Background()

	msg, err := f.reg.Submit(ctx, roomID, s, "/uploads/rooms/room-1/board.png", domain.KindImage)
	require.NoError(t, err)
	assert.Equal(t, domain.KindImage, msg.Kind)

	for _, body := range []string{
		"you fucking retard, answers at discord.gg/cheats",
		"https://img.example/board.png",
		"/uploads/shit.png",
	} {
		_, err := f.reg.Submit(ctx, roomID, s, body, domain.KindImage)
		var rejection *domain.RejectionError
		assert.ErrorAs(t, err, &rejection, body)
	}

	assert.Len(t, f.messages.stored(), 1)
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeChatMessage), 1)
	assert.Equal(t, 1, f.activity(t))
}

func TestRegistry_RelayExcludesSender(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	a := f.join(t, "c1", "alice")
	f.join(t, "c2", "bob")

	require.NoError(t, f.reg.Relay(roomID, a, domain.PresenceCursor, json.RawMessage(`{"x":1,"y":2}`)))

	frames := f.transport.ofType(roomID, domain.MsgTypePresence)
	require.Len(t, frames, 1)
	assert.Equal(t, "c1", frames[0].exclude)

	var out domain.PresenceOut
	require.NoError(t, json.Unmarshal(frames[0].data, &out))
	assert.Equal(t, "alice", out.UserID)
	assert.JSONEq(t, `{"x":1,"y":2}`, string(out.Data))

	assert.ErrorIs(t, f.reg.Relay(roomID, a, "teleport", nil), domain.ErrInvalidEvent)
	assert.ErrorIs(t, f.reg.Relay(roomID, Sender{ConnID: "c9"}, domain.PresenceTyping, nil), domain.ErrNotInRoom)
	assert.ErrorIs(t, f.reg.Relay("elsewhere", a, domain.PresenceTyping, nil), domain.ErrNotInRoom)

	// relays are not chat activity
	assert.Equal(t, 0, f.activity(t))
}

func TestRegistry_SharedState(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	a := f.join(t, "c1", "alice")
	f.join(t, "c2", "alice")
	f.join(t, "c3", "bob")

	require.NoError(t, f.reg.UpdateSharedNotes(ctx, roomID, a, "chain rule"))
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeNotesUpdated), 1)
	assert.Equal(t, "chain rule", f.rooms.get(roomID).SharedNotes)

	require.NoError(t, f.reg.UpdatePersonalNotes(ctx, roomID, a, "remember dx"))
	assert.Len(t, f.transport.sentTo("c1"), 1)
	assert.Len(t, f.transport.sentTo("c2"), 1)
	assert.Empty(t, f.transport.sentTo("c3"))

	require.NoError(t, f.reg.SetActiveQuiz(ctx, roomID, a, json.RawMessage(`{"q":"d/dx x^2"}`)))
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeQuizUpdated), 1)
	assert.Error(t, f.reg.SetActiveQuiz(ctx, roomID, a, json.RawMessage(`{broken`)))

	snap, err := f.reg.Snapshot(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "chain rule", snap.SharedNotes)
	assert.JSONEq(t, `{"q":"d/dx x^2"}`, string(snap.ActiveQuiz))

	// a reconnecting tab gets its personal notes back
	f.join(t, "c4", "alice")
	direct := f.transport.sentTo("c4")
	require.Len(t, direct, 1)
	assert.Equal(t, domain.MsgTypePersonalNotesUpdated, direct[0].typ())

	assert.ErrorIs(t, f.reg.UpdateSharedNotes(ctx, roomID, Sender{ConnID: "nobody"}, "x"), domain.ErrNotInRoom)
}

func TestRegistry_CommandPanicIsContained(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	a := f.join(t, "c1", "alice")

	f.rooms.mu.Lock()
	f.rooms.panicShared = true
	f.rooms.mu.Unlock()

	err := f.reg.UpdateSharedNotes(context.Background(), roomID, a, "boom")
	require.Error(t, err)

	f.submit(t, a, "still alive")
	assert.Equal(t, 1, f.activity(t))
}

func TestRegistry_Deactivate(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.join(t, "c1", "alice")

	require.NoError(t, f.reg.Deactivate(context.Background(), roomID))
	assert.Len(t, f.transport.ofType(roomID, domain.MsgTypeRoomClosed), 1)
	assert.False(t, f.rooms.get(roomID).Active)

	assert.Eventually(t, func() bool { return f.reg.LoadedRooms() == 0 }, time.Second, 5*time.Millisecond)

	_, err := f.reg.Join(context.Background(), roomID, "c2", domain.Participant{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestRegistry_IdleRoomUnloadsAndReloads(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, nil)

	f.join(t, "c1", "alice")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.reg.LoadedRooms(), "rooms with live connections stay loaded")

	require.NoError(t, f.reg.Leave(context.Background(), roomID, "c1"))
	assert.Eventually(t, func() bool { return f.reg.LoadedRooms() == 0 }, time.Second, 5*time.Millisecond)

	f.join(t, "c2", "bob")
	assert.Equal(t, 1, f.reg.LoadedRooms())
	assert.Len(t, f.rooms.get(roomID).Participants, 2)
}

func TestRegistry_LeaveUnloadedRoom(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	assert.NoError(t, f.reg.Leave(context.Background(), "never-loaded", "c1"))
}

func TestRegistry_DeliverSystem(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.join(t, "c1", "alice")

	require.NoError(t, f.reg.DeliverSystem(context.Background(), roomID, "Try splitting the integral."))
	frames := f.transport.ofType(roomID, domain.MsgTypeSystemMessage)
	require.Len(t, frames, 1)

	var sys domain.SystemMessageOut
	require.NoError(t, json.Unmarshal(frames[0].data, &sys))
	assert.Equal(t, domain.SystemActionIntervention, sys.Action)
	assert.Equal(t, "Try splitting the integral.", sys.Content)

	assert.NoError(t, f.reg.DeliverSystem(context.Background(), "gone", "hello?"))
	assert.Equal(t, 0, f.activity(t))
}

func TestRegistry_RequestIntervention(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	s := f.join(t, "c1", "alice")
	f.submit(t, s, "hello")

	require.NoError(t, f.reg.RequestIntervention(context.Background(), roomID))
	_, requested := f.sched.counts()
	assert.Equal(t, 1, requested)
	assert.Equal(t, 1, f.activity(t))

	assert.ErrorIs(t, f.reg.RequestIntervention(context.Background(), "missing"), domain.ErrRoomNotFound)

	f.reg.UseScheduler(nil)
	assert.ErrorIs(t, f.reg.RequestIntervention(context.Background(), roomID), domain.ErrInterventionsOff)
}

func TestRegistry_Close(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	f.join(t, "c1", "alice")

	f.reg.Close()
	assert.Equal(t, 0, f.reg.LoadedRooms())

	_, err := f.reg.Join(context.Background(), roomID, "c2", domain.Participant{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrRegistryClosed)
}
