package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
)

type memRooms struct {
	mu          sync.Mutex
	rooms       map[string]*domain.Room
	gets        int
	appends     int
	panicShared bool
}

func newMemRooms(rooms ...*domain.Room) *memRooms {
	m := &memRooms{rooms: make(map[string]*domain.Room)}
	for _, r := range rooms {
		m.rooms[r.ID] = r.Clone()
	}
	return m
}

func (m *memRooms) Create(_ context.Context, r *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r.Clone()
	return nil
}

func (m *memRooms) GetByID(_ context.Context, id string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	r, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return r.Clone(), nil
}

func (m *memRooms) List(context.Context, int, int, bool) ([]domain.Room, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (m *memRooms) AppendParticipant(_ context.Context, roomID string, p domain.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if r.HasParticipant(p.UserID) {
		return nil
	}
	m.appends++
	r.Participants = append(r.Participants, p)
	return nil
}

func (m *memRooms) UpdateSharedNotes(_ context.Context, roomID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicShared {
		panic("shared notes exploded")
	}
	m.rooms[roomID].SharedNotes = notes
	return nil
}

func (m *memRooms) UpdatePersonalNotes(_ context.Context, roomID, userID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	if r.PersonalNotes == nil {
		r.PersonalNotes = make(map[string]string)
	}
	r.PersonalNotes[userID] = notes
	return nil
}

func (m *memRooms) UpdateActiveQuiz(_ context.Context, roomID string, quiz json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[roomID].ActiveQuiz = quiz
	return nil
}

func (m *memRooms) Deactivate(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || !r.Active {
		return domain.ErrRoomNotFound
	}
	r.Active = false
	return nil
}

func (m *memRooms) get(id string) *domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id].Clone()
}

type memMessages struct {
	mu       sync.Mutex
	msgs     []domain.Message
	attempts int
	failN    int
	failAll  bool
	// gate, when set, holds every write until it is closed.
	gate chan struct{}
}

var errStoreDown = errors.New("store down")

func (m *memMessages) AppendMessage(_ context.Context, msg *domain.Message) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failAll || m.attempts <= m.failN {
		return errStoreDown
	}
	for _, existing := range m.msgs {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *memMessages) ListRecent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.RoomID == roomID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) stored() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.msgs...)
}

type frame struct {
	roomID  string
	connID  string
	exclude string
	data    []byte
}

func (f frame) typ() string {
	var base domain.BaseMessage
	_ = json.Unmarshal(f.data, &base)
	return base.Type
}

// recorder is an in-memory Broadcaster.
type recorder struct {
	mu         sync.Mutex
	topics     map[string]map[string]struct{}
	broadcasts []frame
	direct     []frame
}

func newRecorder() *recorder {
	return &recorder{topics: make(map[string]map[string]struct{})}
}

func (r *recorder) Join(roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[roomID] == nil {
		r.topics[roomID] = make(map[string]struct{})
	}
	r.topics[roomID][connID] = struct{}{}
	return nil
}

func (r *recorder) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics[roomID], connID)
}

func (r *recorder) Broadcast(roomID string, data []byte, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, frame{roomID: roomID, exclude: exclude, data: data})
	n := len(r.topics[roomID])
	if _, ok := r.topics[roomID][exclude]; ok {
		n--
	}
	return n
}

func (r *recorder) SendTo(connID string, data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = append(r.direct, frame{connID: connID, data: data})
	return true
}

// ofType returns the broadcasts to roomID with the given message type.
func (r *recorder) ofType(roomID, typ string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.broadcasts {
		if f.roomID == roomID && f.typ() == typ {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) sentTo(connID string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.direct {
		if f.connID == connID {
			out = append(out, f)
		}
	}
	return out
}

type countingScheduler struct {
	mu        sync.Mutex
	scheduled []string
	requested []string
}

func (s *countingScheduler) Schedule(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, roomID)
	return true
}

func (s *countingScheduler) RequestNow(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, roomID)
	return true
}

func (s *countingScheduler) counts() (scheduled, requested int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled), len(s.requested)
}
