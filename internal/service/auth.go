package service

import (
	"errors"
	"fmt"
	"time"

	"collaborative-whiteboard/internal/domain"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Ticket 是加入房间成功后签发的凭证内容。
// 断线后凭 ticket 可以免密码重新加入同一个房间，也用于访问房间快照导出接口。
type Ticket struct {
	RoomID        string
	ParticipantID string
	Username      string
	Role          domain.Role
	ExpiresAt     time.Time
}

// TicketService 负责 ticket 的签发和校验 (HS256)。
type TicketService struct {
	secret []byte
	expiry time.Duration
}

// NewTicketService 创建 TicketService。secret 应来自安全配置。
func NewTicketService(secret string, expiryHours int) (*TicketService, error) {
	if secret == "" {
		return nil, fmt.Errorf("ticket secret cannot be empty")
	}
	if expiryHours <= 0 {
		expiryHours = 24 // 默认 24 小时
	}
	return &TicketService{
		secret: []byte(secret),
		expiry: time.Duration(expiryHours) * time.Hour,
	}, nil
}

// Issue 为参与者签发 ticket
func (s *TicketService) Issue(p *domain.Participant) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"room_id":        p.RoomID,
		"participant_id": p.ID,
		"username":       p.Username,
		"role":           string(p.Role),
		"exp":            now.Add(s.expiry).Unix(),
		"iat":            now.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, nil
}

// Verify 解析并校验 ticket，任何失败都返回 ErrInvalidTicket
func (s *TicketService) Verify(tokenStr string) (*Ticket, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var validationError *jwt.ValidationError
		if errors.As(err, &validationError) && validationError.Errors&jwt.ValidationErrorExpired != 0 {
			logrus.Debug("Ticket rejected: expired")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidTicket
	}

	t := &Ticket{}
	t.RoomID, _ = claims["room_id"].(string)
	t.ParticipantID, _ = claims["participant_id"].(string)
	t.Username, _ = claims["username"].(string)
	role, _ := claims["role"].(string)
	if t.RoomID == "" {
		return nil, fmt.Errorf("%w: missing room_id", ErrInvalidTicket)
	}
	if t.Role, err = domain.ParseRole(role); err != nil || role == "" {
		return nil, fmt.Errorf("%w: invalid role", ErrInvalidTicket)
	}
	// JWT 数字默认为 float64
	if exp, ok := claims["exp"].(float64); ok {
		t.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return t, nil
}
