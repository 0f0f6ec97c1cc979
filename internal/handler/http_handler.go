package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/service"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/middleware"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/response"
)

// Handler handles HTTP requests for rooms.
type Handler struct {
	roomService service.RoomService
	auth        gin.HandlerFunc
}

// NewHandler creates a new HTTP handler. auth guards every room route.
func NewHandler(roomService service.RoomService, auth gin.HandlerFunc) *Handler {
	return &Handler{
		roomService: roomService,
		auth:        auth,
	}
}

// RegisterRoutes registers the REST routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms", h.auth)
		{
			rooms.GET("", h.ListRooms)
			rooms.GET("/:id", h.GetRoom)
			rooms.GET("/:id/messages", h.RecentMessages)

			rooms.POST("", h.CreateRoom)
			rooms.DELETE("/:id", h.CloseRoom)
			rooms.POST("/:id/moderation", h.RequestModeration)
		}
	}
}

func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create room request")
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.roomService.CreateRoom(ctx, middleware.GetUserID(c), &req)
	if err != nil {
		l.Error().Err(err).Msg("failed to create room")
		response.InternalError(c, "failed to create room")
		return
	}
	response.Created(c, room)
}

// GetRoom returns the live snapshot of an active room.
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")

	snap, err := h.roomService.GetRoom(ctx, roomID)
	if err != nil {
		h.roomError(c, roomID, err, "failed to get room")
		return
	}
	response.Success(c, snap)
}

func (h *Handler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.ListRoomsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.roomService.ListRooms(ctx, req.Page, req.PageSize, req.IncludeInactive)
	if err != nil {
		l.Error().Err(err).Msg("failed to list rooms")
		response.InternalError(c, "failed to list rooms")
		return
	}
	response.Success(c, result)
}

func (h *Handler) RecentMessages(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := h.roomService.RecentMessages(ctx, roomID, limit)
	if err != nil {
		h.roomError(c, roomID, err, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	response.Success(c, gin.H{"messages": msgs})
}

func (h *Handler) CloseRoom(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if err := h.roomService.CloseRoom(ctx, middleware.GetUserID(c), roomID); err != nil {
		h.roomError(c, roomID, err, "failed to close room")
		return
	}
	response.Success(c, gin.H{"message": "room closed"})
}

func (h *Handler) RequestModeration(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("id")

	if err := h.roomService.RequestModeration(ctx, middleware.GetUserID(c), roomID); err != nil {
		h.roomError(c, roomID, err, "failed to request moderation")
		return
	}
	response.Accepted(c, gin.H{"room_id": roomID})
}

func (h *Handler) roomError(c *gin.Context, roomID string, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		response.NotFound(c, "room not found")
	case errors.Is(err, domain.ErrNotInRoom):
		response.Forbidden(c, "not a participant of this room")
	case errors.Is(err, domain.ErrInterventionsOff):
		response.Unavailable(c, "AI moderation is disabled")
	case errors.Is(err, domain.ErrRegistryClosed):
		response.Unavailable(c, "shutting down")
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg(msg)
		response.InternalError(c, msg)
	}
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
