package domain

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shravanisdakve/NexusAI-sub002/pkg/database"
)

// RoomModel is the GORM model for rooms table.
type RoomModel struct {
	ID            string             `gorm:"type:varchar(36);primaryKey"`
	Name          string             `gorm:"type:varchar(200);not null"`
	CourseID      string             `gorm:"type:varchar(64);index"`
	Capacity      int                `gorm:"not null"`
	Active        bool               `gorm:"index;not null"`
	SharedNotes   string             `gorm:"type:text"`
	PersonalNotes database.StringMap `gorm:"type:text"`
	ActiveQuiz    sql.NullString     `gorm:"type:text"`
	Participants  []ParticipantModel `gorm:"foreignKey:RoomID;references:ID"`
	CreatedAt     time.Time          `gorm:"autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "rooms"
}

// ParticipantModel is one row of a room's durable participant list.
type ParticipantModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	RoomID      string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_room_participant"`
	UserID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_room_participant"`
	DisplayName string    `gorm:"type:varchar(100)"`
	JoinedAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for ParticipantModel.
func (ParticipantModel) TableName() string {
	return "room_participants"
}

// MessageModel is the GORM model for chat messages. IDs are ULIDs, so the
// primary key order is the persistence order.
type MessageModel struct {
	ID         string    `gorm:"type:varchar(26);primaryKey"`
	RoomID     string    `gorm:"type:varchar(36);not null;index:idx_messages_room"`
	SenderID   string    `gorm:"type:varchar(64);not null"`
	SenderName string    `gorm:"type:varchar(100)"`
	Body       string    `gorm:"type:text;not null"`
	Kind       string    `gorm:"type:varchar(16);not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts RoomModel to domain Room.
func (m *RoomModel) ToDomain() *Room {
	r := &Room{
		ID:           m.ID,
		Name:         m.Name,
		CourseID:     m.CourseID,
		Capacity:     m.Capacity,
		Active:       m.Active,
		SharedNotes:  m.SharedNotes,
		Participants: make([]Participant, 0, len(m.Participants)),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.PersonalNotes) > 0 {
		r.PersonalNotes = map[string]string(m.PersonalNotes)
	}
	if m.ActiveQuiz.Valid {
		r.ActiveQuiz = json.RawMessage(m.ActiveQuiz.String)
	}
	for _, p := range m.Participants {
		r.Participants = append(r.Participants, p.ToDomain())
	}
	return r
}

// RoomToModel converts domain Room to RoomModel. Participants are stored
// through their own table and are not copied.
func RoomToModel(r *Room) *RoomModel {
	m := &RoomModel{
		ID:            r.ID,
		Name:          r.Name,
		CourseID:      r.CourseID,
		Capacity:      r.Capacity,
		Active:        r.Active,
		SharedNotes:   r.SharedNotes,
		PersonalNotes: database.StringMap(r.PersonalNotes),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.ActiveQuiz) > 0 {
		m.ActiveQuiz = sql.NullString{String: string(r.ActiveQuiz), Valid: true}
	}
	return m
}

// ToDomain converts ParticipantModel to domain Participant.
func (m *ParticipantModel) ToDomain() Participant {
	return Participant{UserID: m.UserID, DisplayName: m.DisplayName, JoinedAt: m.JoinedAt}
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() Message {
	return Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Kind:       MessageKind(m.Kind),
		CreatedAt:  m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Body:       msg.Body,
		Kind:       string(msg.Kind),
		CreatedAt:  msg.CreatedAt,
	}
}
