package tasks

import (
	"encoding/json"
	"fmt"

	"collaborative-whiteboard/internal/domain"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeAuditPersist = "audit:persist" // 审计记录持久化
	TypeAuditPrune   = "audit:prune"   // 周期性清理过期审计记录
)

// 队列名
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

// AuditPersistPayload 定义了审计持久化任务的数据结构
type AuditPersistPayload struct {
	Entry domain.AuditEntry `json:"entry"`
}

// AuditPrunePayload 定义了清理任务的数据结构
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPersistTask 创建审计持久化任务
func NewAuditPersistTask(entry domain.AuditEntry) (*asynq.Task, error) {
	payload, err := json.Marshal(AuditPersistPayload{Entry: entry})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	return asynq.NewTask(TypeAuditPersist, payload, asynq.MaxRetry(5), asynq.Queue(QueueLow)), nil
}

// NewAuditPruneTask 创建清理任务
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	payload, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prune payload: %w", err)
	}
	return asynq.NewTask(TypeAuditPrune, payload, asynq.MaxRetry(1), asynq.Queue(QueueDefault)), nil
}
