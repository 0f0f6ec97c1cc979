// Package room serializes everything that happens inside a study room.
//
// Each loaded room is owned by one actor goroutine that drains a buffered
// queue of typed commands. Joins, leaves, chat submissions, system messages
// and shared-state edits for a room all pass through that queue, so every
// connection sees the same total order. Rooms never share a lock on the hot
// path. Presence and drawing events bypass the queue.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/shravanisdakve/NexusAI-sub002/internal/audit"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
	"github.com/shravanisdakve/NexusAI-sub002/internal/repository"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// Broadcaster delivers bytes to live connections.
type Broadcaster interface {
	Join(roomID, connID string) error
	Leave(roomID, connID string)
	Broadcast(roomID string, data []byte, exclude string) int
	SendTo(connID string, data []byte) bool
}

// Moderator classifies chat text.
type Moderator interface {
	Evaluate(text string) moderation.Verdict
}

// Scheduler queues AI interventions. Both calls return immediately.
type Scheduler interface {
	Schedule(roomID string) bool
	RequestNow(roomID string) bool
}

// Sender identifies the connection and user behind a room operation.
type Sender struct {
	ConnID      string
	UserID      string
	DisplayName string
}

type Config struct {
	InterventionThreshold int
	QueueSize             int
	PersistAttempts       int
	PersistBackoff        time.Duration
	PersistTimeout        time.Duration
	MaxMessageLength      int
	// IdleTimeout unloads a room with no live connections. Zero keeps
	// rooms loaded until they are deactivated or the registry closes.
	IdleTimeout time.Duration
	// MediaPrefixes are the upload locations image references may point
	// into. The prefix is not moderated, the rest of the reference is.
	MediaPrefixes []string
}

func DefaultConfig() Config {
	return Config{
		InterventionThreshold: 7,
		QueueSize:             64,
		PersistAttempts:       3,
		PersistBackoff:        50 * time.Millisecond,
		PersistTimeout:        5 * time.Second,
		MaxMessageLength:      4000,
		IdleTimeout:           10 * time.Minute,
		MediaPrefixes:         []string{"/uploads/"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InterventionThreshold <= 0 {
		c.InterventionThreshold = d.InterventionThreshold
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = d.PersistAttempts
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = d.PersistBackoff
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = d.MaxMessageLength
	}
	return c
}

// Registry owns the set of loaded rooms.
type Registry struct {
	cfg       Config
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	transport Broadcaster
	moderator Moderator

	schedMu   sync.RWMutex
	scheduler Scheduler

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	loads  singleflight.Group
}

func NewRegistry(
	cfg Config,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	transport Broadcaster,
	moderator Moderator,
) *Registry {
	return &Registry{
		cfg:       cfg.withDefaults(),
		rooms:     rooms,
		messages:  messages,
		transport: transport,
		moderator: moderator,
		actors:    make(map[string]*actor),
	}
}

// UseScheduler wires the intervention scheduler. The scheduler itself
// delivers through the registry, so it is attached after construction.
func (r *Registry) UseScheduler(s Scheduler) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	r.scheduler = s
}

func (r *Registry) currentScheduler() Scheduler {
	r.schedMu.RLock()
	defer r.schedMu.RUnlock()
	return r.scheduler
}

// Join adds a connection to a room, loading the room on first use, and
// returns the snapshot that was broadcast to the room.
func (r *Registry) Join(ctx context.Context, roomID, connID string, p domain.Participant) (domain.RoomSnapshot, error) {
	snap, err := dispatch(ctx, r, roomID, func(c call[domain.RoomSnapshot]) command {
		return joinCmd{call: c, ctx: ctx, connID: connID, participant: p}
	})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	audit.Log(ctx, audit.ActionJoinRoom, p.UserID, roomID, "joined room")
	return snap, nil
}

// Leave removes a live connection. Durable participants are kept. Rooms
// that are not loaded have no live connections, so this is then a no-op.
func (r *Registry) Leave(ctx context.Context, roomID, connID string) error {
	a := r.loaded(roomID)
	if a == nil {
		return nil
	}
	c := newCall[struct{}]()
	_, err := await(ctx, a, leaveCmd{call: c, connID: connID}, c.reply)
	if errors.Is(err, errActorStopped) {
		return nil
	}
	return err
}

// Submit moderates, persists and broadcasts one chat message. A tier-1
// verdict returns a *domain.RejectionError and nothing leaves the caller.
func (r *Registry) Submit(ctx context.Context, roomID string, sender Sender, body string, kind domain.MessageKind) (domain.Message, error) {
	if kind == "" {
		kind = domain.KindText
	}
	if !kind.Valid() {
		return domain.Message{}, domain.ErrInvalidKind
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > r.cfg.MaxMessageLength {
		return domain.Message{}, domain.ErrMessageTooLong
	}

	verdict := r.moderate(body, kind)
	if verdict.Tier != moderation.TierNone {
		metrics.ModerationVerdicts.WithLabelValues(tierLabel(verdict.Tier), string(verdict.Action)).Inc()
	}
	if verdict.Blocked() {
		audit.LogWithDetail(ctx, audit.ActionRejectMessage, sender.UserID, roomID, verdict.RuleID, "message rejected by moderation")
		return domain.Message{}, &domain.RejectionError{Text: verdict.Text}
	}

	msg, err := dispatch(ctx, r, roomID, func(c call[domain.Message]) command {
		return submitCmd{call: c, ctx: ctx, sender: sender, body: body, kind: kind, verdict: verdict}
	})
	if err != nil {
		return domain.Message{}, err
	}
	audit.LogWithDetail(ctx, audit.ActionSendMessage, sender.UserID, roomID, msg.ID, "message sent")
	return msg, nil
}

// moderate classifies a submitted body. Image bodies are references: an
// allowed media prefix is stripped and only a reflex verdict on the rest
// counts.
func (r *Registry) moderate(body string, kind domain.MessageKind) moderation.Verdict {
	none := moderation.Verdict{Tier: moderation.TierNone, Action: moderation.ActionNone}
	if r.moderator == nil {
		return none
	}
	if kind != domain.KindImage {
		return r.moderator.Evaluate(body)
	}

	ref := body
	for _, prefix := range r.cfg.MediaPrefixes {
		if prefix != "" && strings.HasPrefix(ref, prefix) {
			ref = strings.TrimPrefix(ref, prefix)
			break
		}
	}
	if v := r.moderator.Evaluate(ref); v.Blocked() {
		return v
	}
	return none
}

// Relay forwards an ephemeral presence or drawing event to every other
// connection of the room. It is not queued, persisted or moderated.
func (r *Registry) Relay(roomID string, sender Sender, event string, data json.RawMessage) error {
	if !domain.ValidPresenceEvent(event) {
		return domain.ErrInvalidEvent
	}
	a := r.loaded(roomID)
	if a == nil || !a.isMember(sender.ConnID) {
		return domain.ErrNotInRoom
	}

	out, err := json.Marshal(&domain.PresenceOut{
		Type:      domain.MsgTypePresence,
		RoomID:    roomID,
		UserID:    sender.UserID,
		Username:  sender.DisplayName,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	r.transport.Broadcast(roomID, out, sender.ConnID)
	metrics.RelayEvents.WithLabelValues(event).Inc()
	return nil
}

// Snapshot returns the current room view, loading the room if needed.
func (r *Registry) Snapshot(ctx context.Context, roomID string) (domain.RoomSnapshot, error) {
	return dispatch(ctx, r, roomID, func(c call[domain.RoomSnapshot]) command {
		return snapshotCmd{call: c}
	})
}

func (r *Registry) UpdateSharedNotes(ctx context.Context, roomID string, sender Sender, content string) error {
	_, err := dispatch(ctx, r, roomID, func(c call[struct{}]) command {
		return sharedNotesCmd{call: c, ctx: ctx, sender: sender, content: content}
	})
	return err
}

func (r *Registry) UpdatePersonalNotes(ctx context.Context, roomID string, sender Sender, content string) error {
	_, err := dispatch(ctx, r, roomID, func(c call[struct{}]) command {
		return personalNotesCmd{call: c, ctx: ctx, sender: sender, content: content}
	})
	return err
}

// SetActiveQuiz replaces the room quiz. An empty or null quiz clears it.
func (r *Registry) SetActiveQuiz(ctx context.Context, roomID string, sender Sender, quiz json.RawMessage) error {
	if len(quiz) == 0 || string(quiz) == "null" {
		quiz = nil
	} else if !json.Valid(quiz) {
		return domain.ErrInvalidQuiz
	}
	_, err := dispatch(ctx, r, roomID, func(c call[struct{}]) command {
		return quizCmd{call: c, ctx: ctx, sender: sender, quiz: quiz}
	})
	return err
}

// DeliverSystem broadcasts a moderator message through the room queue.
// Rooms that are no longer loaded are skipped.
func (r *Registry) DeliverSystem(ctx context.Context, roomID, text string) error {
	a := r.loaded(roomID)
	if a == nil {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldRoomID, roomID).Msg("room gone, dropping system message")
		return nil
	}
	c := newCall[struct{}]()
	_, err := await(ctx, a, systemCmd{call: c, ctx: ctx, action: domain.SystemActionIntervention, text: text}, c.reply)
	if errors.Is(err, errActorStopped) {
		return nil
	}
	return err
}

// RequestIntervention asks for an AI intervention without waiting for the
// activity threshold. The activity counter is left alone.
func (r *Registry) RequestIntervention(ctx context.Context, roomID string) error {
	if _, err := r.actorFor(ctx, roomID); err != nil {
		return err
	}
	s := r.currentScheduler()
	if s == nil {
		return domain.ErrInterventionsOff
	}
	s.RequestNow(roomID)
	return nil
}

// ActivityCount returns accepted messages since the last intervention.
func (r *Registry) ActivityCount(ctx context.Context, roomID string) (int, error) {
	return dispatch(ctx, r, roomID, func(c call[int]) command {
		return probeCmd{call: c}
	})
}

// Deactivate closes a room for good: it is marked inactive in the store,
// its connections are told and detached, and its actor stops.
func (r *Registry) Deactivate(ctx context.Context, roomID string) error {
	_, err := dispatch(ctx, r, roomID, func(c call[struct{}]) command {
		return closeCmd{call: c, ctx: ctx}
	})
	return err
}

// LoadedRooms returns the number of rooms with a running actor.
func (r *Registry) LoadedRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Close stops every actor and waits for them. Later calls fail with
// domain.ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	actors := make([]*actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.mu.Unlock()

	for _, a := range actors {
		close(a.quit)
	}
	for _, a := range actors {
		<-a.done
	}
}

// dispatch runs a command on the room's actor. A command that reached an
// actor after it stopped never ran, so it is retried once on a fresh one.
func dispatch[T any](ctx context.Context, r *Registry, roomID string, build func(call[T]) command) (T, error) {
	var zero T
	for attempt := 0; attempt < 2; attempt++ {
		a, err := r.actorFor(ctx, roomID)
		if err != nil {
			return zero, err
		}
		c := newCall[T]()
		v, err := await(ctx, a, build(c), c.reply)
		if !errors.Is(err, errActorStopped) {
			return v, err
		}
	}
	return zero, domain.ErrRoomNotFound
}

func (r *Registry) loaded(roomID string) *actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actors[roomID]
}

// actorFor returns the running actor for roomID, loading the room from the
// store if needed. Concurrent loads of one room share a single store read.
func (r *Registry) actorFor(ctx context.Context, roomID string) (*actor, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrRegistryClosed
	}
	if a, ok := r.actors[roomID]; ok {
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	v, err, _ := r.loads.Do(roomID, func() (interface{}, error) {
		if a := r.loaded(roomID); a != nil {
			return a, nil
		}

		room, err := r.rooms.GetByID(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !room.Active {
			return nil, domain.ErrRoomNotFound
		}

		a := newActor(r, room.Clone())
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, domain.ErrRegistryClosed
		}
		r.actors[roomID] = a
		r.mu.Unlock()

		metrics.ActiveRooms.Inc()
		go a.run()
		a.logger.Debug().Msg("room actor started")
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*actor), nil
}

// forget removes a from the loaded set if it is still the current actor.
func (r *Registry) forget(a *actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actors[a.id] == a {
		delete(r.actors, a.id)
	}
}

func tierLabel(t moderation.Tier) string {
	switch t {
	case moderation.TierReflex:
		return "reflex"
	case moderation.TierSentiment:
		return "sentiment"
	case moderation.TierConfusion:
		return "confusion"
	default:
		return "none"
	}
}
