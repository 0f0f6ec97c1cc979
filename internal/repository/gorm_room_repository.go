package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/database"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

// Create creates a new active room.
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	room.ID = uuid.New().String()
	room.Active = true

	model := domain.RoomToModel(room)
	if err := r.db.WithContext(ctx).Omit("Participants").Create(model).Error; err != nil {
		l.Error().Err(err).Msg("failed to create room in db")
		return err
	}

	room.CreatedAt = model.CreatedAt
	room.UpdatedAt = model.UpdatedAt
	l.Debug().Str(log.FieldRoomID, room.ID).Msg("room created in db")
	return nil
}

// GetByID retrieves a room with its participants in join order. Inactive
// rooms are returned; callers decide what inactive means to them.
func (r *GormRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	var model domain.RoomModel
	result := r.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, id ASC")
		}).
		First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldRoomID, id).Msg("failed to get room by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// List retrieves rooms with pagination, newest first. Participants are not
// loaded.
func (r *GormRoomRepository) List(ctx context.Context, page, pageSize int, activeOnly bool) ([]domain.Room, int, error) {
	l := log.Ctx(ctx)

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&domain.RoomModel{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		l.Error().Err(err).Msg("failed to count rooms")
		return nil, 0, err
	}

	var models []domain.RoomModel
	if err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&models).Error; err != nil {
		l.Error().Err(err).Msg("failed to list rooms from db")
		return nil, 0, err
	}

	rooms := make([]domain.Room, len(models))
	for i := range models {
		rooms[i] = *models[i].ToDomain()
	}
	return rooms, int(total), nil
}

// AppendParticipant inserts p unless (room, user) already exists.
func (r *GormRoomRepository) AppendParticipant(ctx context.Context, roomID string, p domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	model := domain.ParticipantModel{
		RoomID:      roomID,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		JoinedAt:    p.JoinedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).
			Str(log.FieldRoomID, roomID).
			Str(log.FieldUserID, p.UserID).
			Msg("failed to append participant")
		return err
	}
	return nil
}

func (r *GormRoomRepository) UpdateSharedNotes(ctx context.Context, roomID, notes string) error {
	return r.update(ctx, roomID, map[string]interface{}{"shared_notes": notes})
}

// UpdatePersonalNotes replaces one user's entry in the personal notes map.
func (r *GormRoomRepository) UpdatePersonalNotes(ctx context.Context, roomID, userID, notes string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.RoomModel
		if err := tx.Select("id", "personal_notes").First(&model, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrRoomNotFound
			}
			return err
		}

		m := database.StringMap{}
		for k, v := range model.PersonalNotes {
			m[k] = v
		}
		if notes == "" {
			delete(m, userID)
		} else {
			m[userID] = notes
		}

		return tx.Model(&domain.RoomModel{}).
			Where("id = ?", roomID).
			Updates(map[string]interface{}{"personal_notes": m}).Error
	})
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to update personal notes")
	}
	return err
}

// UpdateActiveQuiz sets the room quiz; an empty quiz clears it.
func (r *GormRoomRepository) UpdateActiveQuiz(ctx context.Context, roomID string, quiz json.RawMessage) error {
	v := sql.NullString{}
	if len(quiz) > 0 && string(quiz) != "null" {
		v = sql.NullString{String: string(quiz), Valid: true}
	}
	return r.update(ctx, roomID, map[string]interface{}{"active_quiz": v})
}

// Deactivate marks an active room inactive.
func (r *GormRoomRepository) Deactivate(ctx context.Context, roomID string) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.RoomModel{}).
		Where("id = ? AND active = ?", roomID, true).
		Updates(map[string]interface{}{"active": false})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldRoomID, roomID).Msg("failed to deactivate room in db")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrRoomNotFound
	}
	l.Debug().Str(log.FieldRoomID, roomID).Msg("room deactivated in db")
	return nil
}

func (r *GormRoomRepository) update(ctx context.Context, roomID string, values map[string]interface{}) error {
	err := r.db.WithContext(ctx).Model(&domain.RoomModel{}).
		Where("id = ?", roomID).
		Updates(values).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to update room in db")
	}
	return err
}
