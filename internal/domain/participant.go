package domain

import (
	"time"

	"github.com/google/uuid"
)

// Participant 是一个连接到某个房间的会话描述。
// 它不持有文档状态；undo/redo 历史只属于客户端自己的连接。
type Participant struct {
	ID       string    `json:"participantId"`
	RoomID   string    `json:"roomId"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NewParticipant 创建参与者并分配 ID
func NewParticipant(roomID, username string, role Role) *Participant {
	return &Participant{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		Username: username,
		Role:     role,
		JoinedAt: time.Now().UTC(),
	}
}
