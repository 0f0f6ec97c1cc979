// Package hub tracks websocket clients and the room topics they belong to.
package hub

import (
	"errors"
	"sync"

	"github.com/shravanisdakve/NexusAI-sub002/internal/metrics"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

var ErrClientNotFound = errors.New("client not registered")

// Hub fans messages out to room topics. Sends never block: a client whose
// buffer is full is unregistered, which closes its socket.
type Hub struct {
	clients map[string]*Client            // clientID -> client
	topics  map[string]map[string]*Client // roomID -> clientID -> client
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	metrics.WsConnections.Inc()
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client registered")
}

// Unregister removes client from every topic and closes its send buffer.
// It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for roomID, members := range h.topics {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.topics, roomID)
		}
	}
	delete(h.clients, client.ID)
	close(client.Send)
	h.mu.Unlock()

	metrics.WsConnections.Dec()
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client unregistered")
}

// Join subscribes a registered client to a room topic.
func (h *Hub) Join(roomID, clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	if _, ok := h.topics[roomID]; !ok {
		h.topics[roomID] = make(map[string]*Client)
	}
	h.topics[roomID][clientID] = client
	return nil
}

func (h *Hub) Leave(roomID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.topics[roomID]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.topics, roomID)
		}
	}
}

// Broadcast sends data to every client in the room except exclude and
// returns the number of clients it was queued for.
func (h *Hub) Broadcast(roomID string, data []byte, exclude string) int {
	var (
		sent int
		slow []*Client
	)

	h.mu.RLock()
	for clientID, client := range h.topics[roomID] {
		if clientID == exclude {
			continue
		}
		select {
		case client.Send <- data:
			sent++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.dropSlow(roomID, slow)
	return sent
}

// SendTo queues data for a single client.
func (h *Hub) SendTo(clientID string, data []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	select {
	case client.Send <- data:
		h.mu.RUnlock()
		return true
	default:
		h.mu.RUnlock()
	}

	h.dropSlow("", []*Client{client})
	return false
}

func (h *Hub) TopicSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[roomID])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Unregister(c)
	}
}

func (h *Hub) dropSlow(roomID string, slow []*Client) {
	for _, c := range slow {
		l := log.L()
		l.Warn().
			Str(log.FieldConnectionID, c.ID).
			Str(log.FieldRoomID, roomID).
			Msg("send buffer full, disconnecting client")
		h.Unregister(c)
	}
}
