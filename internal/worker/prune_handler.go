package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"collaborative-whiteboard/internal/repository"
	"collaborative-whiteboard/internal/tasks"
)

// AuditPruneHandler 处理周期性的审计清理任务
type AuditPruneHandler struct {
	auditRepo repository.AuditRepository
	now       func() time.Time
}

// NewAuditPruneHandler 创建 Handler 实例
func NewAuditPruneHandler(auditRepo repository.AuditRepository) *AuditPruneHandler {
	if auditRepo == nil {
		panic("AuditRepository cannot be nil for AuditPruneHandler")
	}
	return &AuditPruneHandler{auditRepo: auditRepo, now: time.Now}
}

// ProcessTask 删除早于保留期的记录
func (h *AuditPruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	var payload tasks.AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RetentionDays <= 0 {
		logCtx.Warnf("Invalid retention %d days, skipping prune", payload.RetentionDays)
		return nil
	}

	cutoff := h.now().AddDate(0, 0, -payload.RetentionDays)
	deleted, err := h.auditRepo.DeleteBefore(ctx, cutoff)
	if err != nil {
		logCtx.WithError(err).Error("Failed to prune audit entries")
		return fmt.Errorf("failed to prune audit entries: %w", err)
	}
	logCtx.WithField("deleted", deleted).Infof("Pruned audit entries older than %s", cutoff.Format(time.RFC3339))
	return nil
}
