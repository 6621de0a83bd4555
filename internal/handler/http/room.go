package http

import (
	"net/http"

	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/hub"
	"collaborative-whiteboard/internal/middleware"
	"collaborative-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	hub *hub.Hub
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(h *hub.Hub) *RoomHandler {
	if h == nil {
		panic("Hub cannot be nil for RoomHandler")
	}
	return &RoomHandler{hub: h}
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	RoomID   string `json:"roomId" binding:"required"`
	Type     string `json:"type"`
	Password string `json:"password"`
}

// CreateRoomResponse 定义创建房间成功的响应结构体
type CreateRoomResponse struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
	Type    string `json:"type"`
}

// ListRoomsResponse 是公开房间列表
type ListRoomsResponse struct {
	Rooms []hub.RoomInfo `json:"rooms"`
}

// CreateRoom 处理创建新房间的请求 (POST /api/rooms)
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": req.RoomID, "client_ip": c.ClientIP()})

	room, err := h.hub.CreateRoom(c.Request.Context(), service.CreateRoomRequest{
		RoomID:     req.RoomID,
		Type:       req.Type,
		Password:   req.Password,
		RemoteAddr: c.ClientIP(),
	})
	if err != nil {
		logCtx.WithError(err).Info("Handler.CreateRoom: Failed to create room")
		HandleServiceError(c, err)
		return
	}

	logCtx.Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, CreateRoomResponse{
		Message: "Room created successfully",
		RoomID:  room.ID,
		Type:    string(room.Visibility),
	})
}

// ListRooms 返回公开房间 (GET /api/rooms)
func (h *RoomHandler) ListRooms(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, ListRoomsResponse{Rooms: h.hub.PublicRooms()})
}

// GetSnapshot 导出房间的规范文档 (GET /api/rooms/:roomId/snapshot)。
// 需要 Ticket 中间件，ticket 必须属于同一房间。
func (h *RoomHandler) GetSnapshot(c *gin.Context) {
	roomID := c.Param("roomId")
	ticket, ok := middleware.TicketFromContext(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "ticket required")
		return
	}
	if ticket.RoomID != roomID {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "ticket_room": ticket.RoomID}).Warn("Handler.GetSnapshot: Ticket issued for another room")
		ErrorResponse(c, http.StatusForbidden, "ticket is not valid for this room")
		return
	}

	snap, err := h.hub.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	raw, err := dto.EncodeSnapshot(snap)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
