package repository

import (
	"context"
	"time"

	"collaborative-whiteboard/internal/domain"
)

// AuditRepository 定义了审计记录的持久化操作。
type AuditRepository interface {
	// SaveBatch 批量保存审计记录到持久化存储。
	SaveBatch(ctx context.Context, entries []domain.AuditEntry) error

	// ListByRoom 按发生时间顺序返回房间最近的审计记录。
	ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error)

	// DeleteBefore 删除早于 cutoff 的审计记录，返回删除的行数。
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
