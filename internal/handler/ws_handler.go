package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/hub"
	"github.com/shravanisdakve/NexusAI-sub002/internal/service"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/middleware"
)

// messageTimeout bounds how long one inbound frame may wait on its room.
const messageTimeout = 15 * time.Second

type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	wsCfg    config.WebSocketConfig
	limits   hub.Limits
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig, limits hub.Limits) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		limits:  limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the websocket endpoint behind auth.
func (h *WSHandler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/ws", auth, h.HandleWebSocket)
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)
	username := middleware.GetUsername(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := domain.NewSession(uuid.New().String(), userID, username)
	client := hub.NewClient(session.ID, h.hub, conn, h.wsCfg, session, h.limits)
	h.hub.Register(client)

	ctx := log.WithFields(context.Background(),
		log.FieldConnectionID, client.ID,
		log.FieldUserID, userID,
	)
	l := log.Ctx(ctx)
	l.Debug().Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(
		func(cl *hub.Client, message []byte) {
			h.handleMessage(ctx, cl, message)
		},
		func(cl *hub.Client) {
			if err := h.service.HandleDisconnect(ctx, cl); err != nil {
				l.Warn().Err(err).Msg("disconnect cleanup failed")
			}
			l.Debug().
				Dur("connected_for", time.Since(cl.Session.ConnectedAt)).
				Dur("idle", cl.Session.IdleFor()).
				Msg("websocket disconnected")
		},
	)
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()
	l := log.Ctx(ctx)

	var err error
	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if decode(client, message, &msg) {
			err = h.service.HandleJoinRoom(ctx, client, msg.RoomID)
		}

	case domain.MsgTypeLeaveRoom:
		err = h.service.HandleLeaveRoom(ctx, client)

	case domain.MsgTypeChatMessage:
		var msg domain.ChatMessageWS
		if decode(client, message, &msg) {
			err = h.service.HandleChatMessage(ctx, client, msg.Content, msg.Kind)
		}

	case domain.MsgTypePresence:
		var msg domain.PresenceWS
		if decode(client, message, &msg) {
			err = h.service.HandlePresence(ctx, client, msg.Event, msg.Data)
		}

	case domain.MsgTypeUpdateSharedNotes:
		var msg domain.NotesWS
		if decode(client, message, &msg) {
			err = h.service.HandleSharedNotes(ctx, client, msg.Content)
		}

	case domain.MsgTypeUpdatePersonalNotes:
		var msg domain.NotesWS
		if decode(client, message, &msg) {
			err = h.service.HandlePersonalNotes(ctx, client, msg.Content)
		}

	case domain.MsgTypeSetQuiz:
		var msg domain.QuizWS
		if decode(client, message, &msg) {
			err = h.service.HandleSetQuiz(ctx, client, msg.Quiz)
		}

	case domain.MsgTypeRequestModeration:
		err = h.service.HandleRequestModeration(ctx, client)

	case domain.MsgTypePing:
		client.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong, Timestamp: time.Now().UnixMilli()})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}

	if err != nil {
		l.Warn().Err(err).Str("type", base.Type).Msg("failed to answer websocket message")
	}
}

func decode(client *hub.Client, message []byte, v interface{}) bool {
	if err := json.Unmarshal(message, v); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message payload"))
		return false
	}
	return true
}
