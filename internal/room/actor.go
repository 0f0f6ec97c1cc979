package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/shravanisdakve/NexusAI-sub002/internal/audit"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// actor owns the in-memory state of one room. Everything except members
// is touched only by the run goroutine.
type actor struct {
	reg     *Registry
	id      string
	room    *domain.Room
	conns   map[string]domain.Participant // connID -> identity
	counter int

	membersMu sync.RWMutex
	members   map[string]struct{}

	cmds   chan command
	quit   chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

func newActor(reg *Registry, room *domain.Room) *actor {
	return &actor{
		reg:     reg,
		id:      room.ID,
		room:    room,
		conns:   make(map[string]domain.Participant),
		members: make(map[string]struct{}),
		cmds:    make(chan command, reg.cfg.QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log.ForRoom(log.L(), room.ID),
	}
}

func (a *actor) run() {
	defer func() {
		a.reg.forget(a)
		close(a.done)
		metrics.ActiveRooms.Dec()
		a.logger.Debug().Msg("room actor stopped")
	}()

	for {
		var (
			idle  *time.Timer
			idleC <-chan time.Time
		)
		if a.reg.cfg.IdleTimeout > 0 && len(a.conns) == 0 {
			idle = time.NewTimer(a.reg.cfg.IdleTimeout)
			idleC = idle.C
		}

		select {
		case <-a.quit:
			stopTimer(idle)
			return
		case cmd := <-a.cmds:
			stopTimer(idle)
			if a.handle(cmd) {
				return
			}
		case <-idleC:
			a.logger.Debug().Msg("room idle, unloading")
			return
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// handle runs one command and reports whether the actor should exit.
func (a *actor) handle(cmd command) (stop bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("room command panicked")
			cmd.fail(fmt.Errorf("room %s: internal error", a.id))
			stop = false
		}
	}()

	switch c := cmd.(type) {
	case joinCmd:
		c.done(a.join(c))
	case leaveCmd:
		a.leave(c.connID)
		c.done(struct{}{}, nil)
	case submitCmd:
		c.done(a.submit(c))
	case systemCmd:
		a.system(c)
		c.done(struct{}{}, nil)
	case sharedNotesCmd:
		c.done(struct{}{}, a.sharedNotes(c))
	case personalNotesCmd:
		c.done(struct{}{}, a.personalNotes(c))
	case quizCmd:
		c.done(struct{}{}, a.setQuiz(c))
	case snapshotCmd:
		c.done(a.snapshot(), nil)
	case probeCmd:
		c.done(a.counter, nil)
	case closeCmd:
		err := a.deactivate(c)
		c.done(struct{}{}, err)
		return err == nil
	default:
		cmd.fail(fmt.Errorf("unknown room command %T", cmd))
	}
	return false
}

// await enqueues cmd and waits for its reply. ctx only bounds the enqueue;
// a queued command always reports its outcome.
func await[T any](ctx context.Context, a *actor, cmd command, reply chan result[T]) (T, error) {
	var zero T

	select {
	case a.cmds <- cmd:
	case <-a.done:
		return zero, errActorStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.val, res.err
	case <-a.done:
		select {
		case res := <-reply:
			return res.val, res.err
		default:
			return zero, errActorStopped
		}
	}
}

func (a *actor) join(c joinCmd) (domain.RoomSnapshot, error) {
	userID := c.participant.UserID

	if _, reconnect := a.conns[c.connID]; !reconnect {
		if limit := a.room.Capacity; limit > 0 && !a.isLive(userID) && a.liveUsers() >= limit {
			return domain.RoomSnapshot{}, domain.ErrRoomFull
		}
	}

	if !a.room.HasParticipant(userID) {
		p := domain.Participant{
			UserID:      userID,
			DisplayName: c.participant.DisplayName,
			JoinedAt:    time.Now().UTC(),
		}
		if err := a.reg.rooms.AppendParticipant(c.ctx, a.id, p); err != nil {
			return domain.RoomSnapshot{}, fmt.Errorf("append participant: %w", err)
		}
		a.room.Participants = append(a.room.Participants, p)
	}

	if err := a.reg.transport.Join(a.id, c.connID); err != nil {
		return domain.RoomSnapshot{}, fmt.Errorf("join transport: %w", err)
	}
	a.conns[c.connID] = c.participant
	a.setMember(c.connID, true)

	snap := a.snapshot()
	a.broadcast(&domain.RoomSnapshotMessage{Type: domain.MsgTypeRoomSnapshot, Room: snap})

	if notes := a.room.PersonalNotes[userID]; notes != "" {
		a.sendTo(c.connID, a.personalNotesMessage(userID, notes))
	}
	return snap, nil
}

func (a *actor) leave(connID string) {
	if _, ok := a.conns[connID]; !ok {
		return
	}
	delete(a.conns, connID)
	a.setMember(connID, false)
	a.reg.transport.Leave(a.id, connID)

	a.broadcast(&domain.RoomSnapshotMessage{Type: domain.MsgTypeRoomSnapshot, Room: a.snapshot()})
}

func (a *actor) submit(c submitCmd) (domain.Message, error) {
	if err := c.ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	if !a.isMember(c.sender.ConnID) {
		return domain.Message{}, domain.ErrNotInRoom
	}

	msg := domain.Message{
		ID:         ulid.Make().String(),
		RoomID:     a.id,
		SenderID:   c.sender.UserID,
		SenderName: c.sender.DisplayName,
		Body:       c.body,
		Kind:       c.kind,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.persist(c.ctx, &msg); err != nil {
		metrics.PersistFailures.Inc()
		a.logger.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("message not persisted")
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	a.broadcast(domain.NewChatMessageOut(msg))
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()

	if c.verdict.Tier == moderation.TierSentiment {
		a.broadcast(domain.NewSystemMessageOut(
			ulid.Make().String(), a.id, string(c.verdict.Action), c.verdict.Text, msg.ID, time.Now().UTC(),
		))
		audit.LogWithDetail(c.ctx, audit.ActionModeratorNotice, msg.SenderID, a.id, string(c.verdict.Action), "moderator notice sent")
	}

	a.counter++
	if a.counter >= a.reg.cfg.InterventionThreshold || c.verdict.Intervene {
		a.counter = 0
		if s := a.reg.currentScheduler(); s != nil {
			s.Schedule(a.id)
		}
	}
	return msg, nil
}

// persist writes msg with bounded exponential backoff. The ID is fixed
// before the first attempt, so a retry of a write that actually landed is
// absorbed by the store.
func (a *actor) persist(ctx context.Context, msg *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, a.reg.cfg.PersistTimeout)
	defer cancel()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     a.reg.cfg.PersistBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         20 * a.reg.cfg.PersistBackoff,
	}
	b.Reset()

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			return struct{}{}, a.reg.messages.AppendMessage(ctx, msg)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.reg.cfg.PersistAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Warn().Err(err).
				Str(log.FieldMessageID, msg.ID).
				Dur("retry_in", next).
				Msg("message persist failed, retrying")
		}),
	)
	return err
}

func (a *actor) system(c systemCmd) {
	a.broadcast(domain.NewSystemMessageOut(ulid.Make().String(), a.id, c.action, c.text, "", time.Now().UTC()))
	audit.LogWithDetail(c.ctx, audit.ActionIntervention, domain.ModeratorID, a.id, c.action, "system message delivered")
}

func (a *actor) sharedNotes(c sharedNotesCmd) error {
	if !a.isMember(c.sender.ConnID) {
		return domain.ErrNotInRoom
	}
	if err := a.reg.rooms.UpdateSharedNotes(c.ctx, a.id, c.content); err != nil {
		return fmt.Errorf("update shared notes: %w", err)
	}
	a.room.SharedNotes = c.content

	a.broadcast(&domain.NotesUpdatedMessage{
		Type:      domain.MsgTypeNotesUpdated,
		RoomID:    a.id,
		Content:   c.content,
		UpdatedBy: c.sender.UserID,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// personalNotes updates one user's notes and echoes them to that user's
// connections only.
func (a *actor) personalNotes(c personalNotesCmd) error {
	if !a.isMember(c.sender.ConnID) {
		return domain.ErrNotInRoom
	}
	userID := c.sender.UserID
	if err := a.reg.rooms.UpdatePersonalNotes(c.ctx, a.id, userID, c.content); err != nil {
		return fmt.Errorf("update personal notes: %w", err)
	}
	if a.room.PersonalNotes == nil {
		a.room.PersonalNotes = make(map[string]string)
	}
	if c.content == "" {
		delete(a.room.PersonalNotes, userID)
	} else {
		a.room.PersonalNotes[userID] = c.content
	}

	msg := a.personalNotesMessage(userID, c.content)
	for connID, p := range a.conns {
		if p.UserID == userID {
			a.sendTo(connID, msg)
		}
	}
	return nil
}

func (a *actor) personalNotesMessage(userID, content string) *domain.NotesUpdatedMessage {
	return &domain.NotesUpdatedMessage{
		Type:      domain.MsgTypePersonalNotesUpdated,
		RoomID:    a.id,
		Content:   content,
		UpdatedBy: userID,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (a *actor) setQuiz(c quizCmd) error {
	if !a.isMember(c.sender.ConnID) {
		return domain.ErrNotInRoom
	}
	if err := a.reg.rooms.UpdateActiveQuiz(c.ctx, a.id, c.quiz); err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	a.room.ActiveQuiz = c.quiz

	a.broadcast(&domain.QuizUpdatedMessage{
		Type:      domain.MsgTypeQuizUpdated,
		RoomID:    a.id,
		Quiz:      c.quiz,
		UpdatedBy: c.sender.UserID,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (a *actor) deactivate(c closeCmd) error {
	if err := a.reg.rooms.Deactivate(c.ctx, a.id); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return fmt.Errorf("deactivate room: %w", err)
	}
	a.room.Active = false

	a.broadcast(&domain.RoomClosedMessage{Type: domain.MsgTypeRoomClosed, RoomID: a.id})
	for connID := range a.conns {
		a.reg.transport.Leave(a.id, connID)
		a.setMember(connID, false)
	}
	a.conns = make(map[string]domain.Participant)
	return nil
}

func (a *actor) snapshot() domain.RoomSnapshot {
	conns := make(map[string]int)
	names := make(map[string]string)
	for _, p := range a.conns {
		conns[p.UserID]++
		names[p.UserID] = p.DisplayName
	}

	live := make([]domain.LiveParticipant, 0, len(conns))
	for _, p := range a.room.Participants {
		if n := conns[p.UserID]; n > 0 {
			live = append(live, domain.LiveParticipant{
				UserID:      p.UserID,
				DisplayName: names[p.UserID],
				Connections: n,
			})
		}
	}

	snap := domain.RoomSnapshot{
		ID:           a.room.ID,
		Name:         a.room.Name,
		CourseID:     a.room.CourseID,
		Capacity:     a.room.Capacity,
		Active:       a.room.Active,
		Participants: append([]domain.Participant{}, a.room.Participants...),
		Live:         live,
		SharedNotes:  a.room.SharedNotes,
		TakenAt:      time.Now().UTC(),
	}
	if a.room.ActiveQuiz != nil {
		snap.ActiveQuiz = append(json.RawMessage(nil), a.room.ActiveQuiz...)
	}
	return snap
}

func (a *actor) isLive(userID string) bool {
	for _, p := range a.conns {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (a *actor) liveUsers() int {
	users := make(map[string]struct{}, len(a.conns))
	for _, p := range a.conns {
		users[p.UserID] = struct{}{}
	}
	return len(users)
}

func (a *actor) setMember(connID string, in bool) {
	a.membersMu.Lock()
	defer a.membersMu.Unlock()
	if in {
		a.members[connID] = struct{}{}
	} else {
		delete(a.members, connID)
	}
}

// isMember is safe to call from any goroutine.
func (a *actor) isMember(connID string) bool {
	a.membersMu.RLock()
	defer a.membersMu.RUnlock()
	_, ok := a.members[connID]
	return ok
}

func (a *actor) broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal room broadcast")
		return
	}
	a.reg.transport.Broadcast(a.id, data, "")
}

func (a *actor) sendTo(connID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal direct message")
		return
	}
	a.reg.transport.SendTo(connID, data)
}
