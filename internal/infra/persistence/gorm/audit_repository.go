package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/repository"
)

// GormAuditRepository 是 AuditRepository 接口的 GORM 实现
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository 创建 GormAuditRepository 实例
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	if db == nil {
		panic("database connection cannot be nil for GormAuditRepository")
	}
	return &GormAuditRepository{db: db}
}

// SaveBatch 批量保存审计记录。
// 已存在的 event_id 会被跳过，任务重试不会产生重复记录。
func (r *GormAuditRepository) SaveBatch(ctx context.Context, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		CreateInBatches(&entries, 100).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: failed to save audit batch (size %d): %w", len(entries), err)
	}
	return nil
}

// ListByRoom 返回房间最近的 limit 条记录 (按发生时间升序)
func (r *GormAuditRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []domain.AuditEntry
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("occurred_at desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: failed to list audit entries for room %s: %w", roomID, err)
	}
	// 翻转为时间升序
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// DeleteBefore 删除早于 cutoff 的记录
func (r *GormAuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&domain.AuditEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("gorm: failed to prune audit entries before %v: %w", cutoff, result.Error)
	}
	return result.RowsAffected, nil
}
