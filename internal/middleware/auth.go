package middleware

import (
	"errors"
	"net/http"
	"strings"

	"collaborative-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContextTicketKey 是 gin.Context 中保存已验证 ticket 的键
const ContextTicketKey = "ticket"

// ErrMissingAuthHeader 定义一个自定义错误，用于表示缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// ErrMalformedAuthHeader 表示 Authorization 头不是 Bearer 格式
var ErrMalformedAuthHeader = errors.New("malformed Authorization header")

// Ticket 返回一个 Gin 中间件，用于验证加入房间时签发的 ticket。
func Ticket(tickets *service.TicketService) gin.HandlerFunc {
	if tickets == nil {
		panic("TicketService cannot be nil for Ticket middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Ticket middleware: Missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.WithError(err).Warn("Ticket middleware: Malformed Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		ticket, err := tickets.Verify(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Ticket middleware: Invalid ticket")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired ticket"})
			c.Abort()
			return
		}

		c.Set(ContextTicketKey, ticket)
		logrus.WithFields(logrus.Fields{
			"room_id":        ticket.RoomID,
			"participant_id": ticket.ParticipantID,
		}).Debug("Ticket middleware: Request authorized")
		c.Next()
	}
}

// TicketFromContext 取出 Ticket 中间件保存的 ticket
func TicketFromContext(c *gin.Context) (*service.Ticket, bool) {
	v, ok := c.Get(ContextTicketKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*service.Ticket)
	return t, ok
}

// extractToken 从 Gin 上下文中提取 Bearer Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	// Authorization header 格式应为 "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMalformedAuthHeader
	}
	return parts[1], nil
}
