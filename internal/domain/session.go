package domain

import (
	"sync"
	"time"
)

// Session is the state of one live connection. A user with several open
// tabs has several sessions mapped to one durable participant. Identity is
// fixed at upgrade time; only the current room and activity change.
type Session struct {
	ID          string
	UserID      string
	Username    string
	ConnectedAt time.Time

	mu         sync.Mutex
	roomID     string
	lastActive time.Time
}

func NewSession(id, userID, username string) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		UserID:      userID,
		Username:    username,
		ConnectedAt: now,
		lastActive:  now,
	}
}

// Participant returns the identity this connection acts as.
func (s *Session) Participant() Participant {
	return Participant{UserID: s.UserID, DisplayName: s.Username}
}

func (s *Session) GetUserID() string   { return s.UserID }
func (s *Session) GetUsername() string { return s.Username }

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LeaveRoom clears the current room and returns the one that was left.
func (s *Session) LeaveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.roomID
	s.roomID = ""
	s.lastActive = time.Now()
	return prev
}

// LeaveRoomIf clears the current room only if it is still roomID, so a
// late failure from an old room cannot detach a newer join.
func (s *Session) LeaveRoomIf(roomID string) {
	s.mu.Lock()
	if s.roomID == roomID {
		s.roomID = ""
	}
	s.mu.Unlock()
}

func (s *Session) GetCurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the connection has sent nothing.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}
