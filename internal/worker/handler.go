package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/repository"
	"collaborative-whiteboard/internal/tasks"
)

// taskLogger 构建带任务信息的日志上下文
func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
}

// AuditPersistenceHandler 处理审计持久化任务
type AuditPersistenceHandler struct {
	auditRepo repository.AuditRepository
}

// NewAuditPersistenceHandler 创建 Handler 实例
func NewAuditPersistenceHandler(auditRepo repository.AuditRepository) *AuditPersistenceHandler {
	if auditRepo == nil {
		panic("AuditRepository cannot be nil for AuditPersistenceHandler")
	}
	return &AuditPersistenceHandler{auditRepo: auditRepo}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *AuditPersistenceHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.AuditPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	entry := payload.Entry
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": entry.RoomID, "event": entry.Event})

	if err := h.auditRepo.SaveBatch(ctx, []domain.AuditEntry{entry}); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 之前的尝试已经写入
			logCtx.Debug("Audit entry already persisted")
			return nil
		}
		logCtx.WithError(err).Error("Failed to save audit entry")
		return fmt.Errorf("failed to save audit entry %s: %w", entry.EventID, err)
	}

	logCtx.Debug("Audit entry persisted")
	return nil
}
