package http

import (
	"net/http"
	"strconv"
	"time"

	"collaborative-whiteboard/internal/middleware"
	"collaborative-whiteboard/internal/repository"

	"github.com/gin-gonic/gin"
)

const maxAuditLimit = 200

// AuditHandler 提供房间审计记录查询
type AuditHandler struct {
	auditRepo repository.AuditRepository
}

// NewAuditHandler 创建 AuditHandler 实例
func NewAuditHandler(auditRepo repository.AuditRepository) *AuditHandler {
	if auditRepo == nil {
		panic("AuditRepository cannot be nil for AuditHandler")
	}
	return &AuditHandler{auditRepo: auditRepo}
}

// AuditEntryResponse 是单条审计记录
type AuditEntryResponse struct {
	Event      string `json:"event"`
	Username   string `json:"username,omitempty"`
	Role       string `json:"role,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurredAt"`
}

// ListRoomAudit 返回房间最近的审计记录 (GET /api/rooms/:roomId/audit?limit=N)。
// 只有持有该房间 editor ticket 的参与者可以查看。
func (h *AuditHandler) ListRoomAudit(c *gin.Context) {
	roomID := c.Param("roomId")
	ticket, ok := middleware.TicketFromContext(c)
	if !ok || ticket.RoomID != roomID || !ticket.Role.CanEdit() {
		ErrorResponse(c, http.StatusForbidden, "editor ticket for this room required")
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	entries, err := h.auditRepo.ListByRoom(c.Request.Context(), roomID, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			Event:      e.Event,
			Username:   e.Username,
			Role:       e.Role,
			Reason:     e.Reason,
			OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	SuccessResponse(c, http.StatusOK, gin.H{"roomId": roomID, "entries": out})
}
