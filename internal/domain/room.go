package domain

import (
	"encoding/json"
	"time"
)

// Participant is a durable record that a user has joined a room.
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Room is the durable study-room record.
type Room struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CourseID      string            `json:"course_id,omitempty"`
	Capacity      int               `json:"capacity"`
	Active        bool              `json:"active"`
	Participants  []Participant     `json:"participants"`
	SharedNotes   string            `json:"shared_notes"`
	PersonalNotes map[string]string `json:"personal_notes,omitempty"`
	ActiveQuiz    json.RawMessage   `json:"active_quiz,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// HasParticipant reports whether userID is in the durable participant list.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand the room to other goroutines.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = append([]Participant(nil), r.Participants...)
	if r.PersonalNotes != nil {
		c.PersonalNotes = make(map[string]string, len(r.PersonalNotes))
		for k, v := range r.PersonalNotes {
			c.PersonalNotes[k] = v
		}
	}
	if r.ActiveQuiz != nil {
		c.ActiveQuiz = append(json.RawMessage(nil), r.ActiveQuiz...)
	}
	return &c
}

// LiveParticipant is a user with at least one open connection in a room.
type LiveParticipant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Connections int    `json:"connections"`
}

// RoomSnapshot is what clients see of a room. Personal notes are never part
// of it; each user receives their own separately.
type RoomSnapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	CourseID     string            `json:"course_id,omitempty"`
	Capacity     int               `json:"capacity"`
	Active       bool              `json:"active"`
	Participants []Participant     `json:"participants"`
	Live         []LiveParticipant `json:"live"`
	SharedNotes  string            `json:"shared_notes"`
	ActiveQuiz   json.RawMessage   `json:"active_quiz,omitempty"`
	TakenAt      time.Time         `json:"taken_at"`
}

// CreateRoomRequest is the REST payload for creating a room.
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required,max=200"`
	CourseID string `json:"course_id" binding:"max=64"`
	Capacity int    `json:"capacity" binding:"min=0,max=500"`
}

// ListRoomsRequest is the REST query for listing rooms.
type ListRoomsRequest struct {
	Page            int  `form:"page"`
	PageSize        int  `form:"page_size"`
	IncludeInactive bool `form:"include_inactive"`
}

type ListRoomsResponse struct {
	Rooms      []Room `json:"rooms"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}
