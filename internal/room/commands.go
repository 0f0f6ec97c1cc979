package room

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
)

// errActorStopped means the command never ran because the actor exited.
var errActorStopped = errors.New("room actor stopped")

type result[T any] struct {
	val T
	err error
}

// call carries the reply channel of a command. The channel has room for
// exactly one value so the actor never blocks on a caller that gave up.
type call[T any] struct {
	reply chan result[T]
}

func newCall[T any]() call[T] {
	return call[T]{reply: make(chan result[T], 1)}
}

func (c call[T]) done(v T, err error) {
	select {
	case c.reply <- result[T]{val: v, err: err}:
	default:
	}
}

func (c call[T]) fail(err error) {
	var zero T
	c.done(zero, err)
}

type command interface {
	fail(err error)
}

type joinCmd struct {
	call[domain.RoomSnapshot]
	ctx         context.Context
	connID      string
	participant domain.Participant
}

type leaveCmd struct {
	call[struct{}]
	connID string
}

type submitCmd struct {
	call[domain.Message]
	ctx     context.Context
	sender  Sender
	body    string
	kind    domain.MessageKind
	verdict moderation.Verdict
}

type systemCmd struct {
	call[struct{}]
	ctx    context.Context
	action string
	text   string
}

type sharedNotesCmd struct {
	call[struct{}]
	ctx     context.Context
	sender  Sender
	content string
}

type personalNotesCmd struct {
	call[struct{}]
	ctx     context.Context
	sender  Sender
	content string
}

type quizCmd struct {
	call[struct{}]
	ctx    context.Context
	sender Sender
	quiz   json.RawMessage
}

type snapshotCmd struct {
	call[domain.RoomSnapshot]
}

type probeCmd struct {
	call[int]
}

type closeCmd struct {
	call[struct{}]
	ctx context.Context
}
