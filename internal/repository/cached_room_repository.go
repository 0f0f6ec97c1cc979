package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shravanisdakve/NexusAI-sub002/internal/cache"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// CachedRoomRepository reads rooms through a cache and invalidates the
// cached entry on every write. Cache failures fall through to the store.
type CachedRoomRepository struct {
	RoomRepository
	cache cache.RoomCache
	ttl   time.Duration
}

func NewCachedRoomRepository(repo RoomRepository, c cache.RoomCache, ttl time.Duration) *CachedRoomRepository {
	return &CachedRoomRepository{RoomRepository: repo, cache: c, ttl: ttl}
}

func (r *CachedRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	l := log.Ctx(ctx)

	room, err := r.cache.Get(ctx, id)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldRoomID, id).Msg("room cache read failed")
	}

	room, err = r.RoomRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, room, r.ttl); err != nil {
		l.Warn().Err(err).Str(log.FieldRoomID, id).Msg("room cache write failed")
	}
	return room, nil
}

func (r *CachedRoomRepository) AppendParticipant(ctx context.Context, roomID string, p domain.Participant) error {
	return r.invalidateAfter(ctx, roomID, r.RoomRepository.AppendParticipant(ctx, roomID, p))
}

func (r *CachedRoomRepository) UpdateSharedNotes(ctx context.Context, roomID, notes string) error {
	return r.invalidateAfter(ctx, roomID, r.RoomRepository.UpdateSharedNotes(ctx, roomID, notes))
}

func (r *CachedRoomRepository) UpdatePersonalNotes(ctx context.Context, roomID, userID, notes string) error {
	return r.invalidateAfter(ctx, roomID, r.RoomRepository.UpdatePersonalNotes(ctx, roomID, userID, notes))
}

func (r *CachedRoomRepository) UpdateActiveQuiz(ctx context.Context, roomID string, quiz json.RawMessage) error {
	return r.invalidateAfter(ctx, roomID, r.RoomRepository.UpdateActiveQuiz(ctx, roomID, quiz))
}

func (r *CachedRoomRepository) Deactivate(ctx context.Context, roomID string) error {
	return r.invalidateAfter(ctx, roomID, r.RoomRepository.Deactivate(ctx, roomID))
}

// invalidateAfter drops the cached room even when the write failed; a
// timed-out write may still have been applied.
func (r *CachedRoomRepository) invalidateAfter(ctx context.Context, roomID string, writeErr error) error {
	if err := r.cache.Invalidate(ctx, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("room cache invalidation failed")
	}
	return writeErr
}
