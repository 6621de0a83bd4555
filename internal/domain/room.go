package domain

import (
	"fmt"
	"time"
)

// Visibility 房间可见性
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Role 参与者角色
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole 解析加入请求中的角色，空值视为 editor
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case "":
		return RoleEditor, nil
	case RoleEditor, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrAccessDenied, s)
	}
}

// CanEdit 只有 editor 可以发出修改类操作
func (r Role) CanEdit() bool { return r == RoleEditor }

// Room 表示一个协作画布房间的元数据。
// 文档本身 (规范 Object Store) 由 hub 中的房间协程持有，只存在于内存中。
type Room struct {
	ID           string     `json:"roomId"`
	Visibility   Visibility `json:"type"`
	PasswordHash []byte     `json:"-"` // 空表示公开房间
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsPrivate 私有房间需要密码
func (r *Room) IsPrivate() bool {
	return r.Visibility == VisibilityPrivate
}
