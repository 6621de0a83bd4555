package domain

import "time"

// 审计事件类型
const (
	AuditRoomCreated   = "room_created"
	AuditRoomDestroyed = "room_destroyed"
	AuditJoinAccepted  = "join_accepted"
	AuditJoinRejected  = "join_rejected"
)

// AuditEntry 记录房间生命周期和访问控制决策。
// 只记录元数据，不保存画布内容。
type AuditEntry struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    string    `gorm:"size:36;uniqueIndex;not null"` // 任务重试时去重
	RoomID     string    `gorm:"size:64;index;not null"`
	Event      string    `gorm:"size:32;not null"`
	Username   string    `gorm:"size:191"`
	Role       string    `gorm:"size:16"`
	RemoteAddr string    `gorm:"size:64"`
	Reason     string    `gorm:"size:255"`
	OccurredAt time.Time `gorm:"index;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
