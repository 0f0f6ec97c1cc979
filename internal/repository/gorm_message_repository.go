package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// GormMessageRepository stores messages in the SQL database. Message IDs
// are ULIDs, so ordering by primary key is persistence order.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) AppendMessage(ctx context.Context, msg *domain.Message) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(domain.MessageToModel(msg)).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldRoomID, msg.RoomID).
			Str(log.FieldMessageID, msg.ID).
			Msg("failed to append message")
	}
	return err
}

func (r *GormMessageRepository) ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to list recent messages")
		return nil, err
	}

	out := make([]domain.Message, len(models))
	for i := range models {
		out[len(models)-1-i] = models[i].ToDomain()
	}
	return out, nil
}
