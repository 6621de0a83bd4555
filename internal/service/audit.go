package service

import (
	"context"
	"time"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// AuditRecorder 记录房间生命周期和访问判定。
// 记录失败只写日志，不影响调用方。
type AuditRecorder interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// TaskEnqueuer 由 *asynq.Client 实现
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AuditService 把审计记录作为异步任务投递给 worker 持久化
type AuditService struct {
	enqueuer TaskEnqueuer
	now      func() time.Time
}

// NewAuditService 创建 AuditService 实例
func NewAuditService(enqueuer TaskEnqueuer) *AuditService {
	if enqueuer == nil {
		panic("TaskEnqueuer cannot be nil for AuditService")
	}
	return &AuditService{enqueuer: enqueuer, now: time.Now}
}

// Record 补全 event_id 和时间后入队
func (s *AuditService) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":  entry.RoomID,
		"event":    entry.Event,
		"event_id": entry.EventID,
	})

	task, err := tasks.NewAuditPersistTask(entry)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build audit task")
		return
	}
	info, err := s.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		logCtx.WithError(err).Error("Failed to enqueue audit task")
		return
	}
	logCtx.WithField("task_id", info.ID).Debug("Audit task enqueued")
}

// NopAuditRecorder 丢弃所有记录 (未配置 asynq 时使用)
type NopAuditRecorder struct{}

func (NopAuditRecorder) Record(context.Context, domain.AuditEntry) {}
