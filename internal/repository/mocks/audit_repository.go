// Package mocks 提供 repository 接口的 testify Mock 实现
package mocks

import (
	"context"
	"time"

	"collaborative-whiteboard/internal/domain"

	"github.com/stretchr/testify/mock"
)

// AuditRepository 是 repository.AuditRepository 的 Mock
type AuditRepository struct {
	mock.Mock
}

func (m *AuditRepository) SaveBatch(ctx context.Context, entries []domain.AuditEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *AuditRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]domain.AuditEntry, error) {
	args := m.Called(ctx, roomID, limit)
	entries, _ := args.Get(0).([]domain.AuditEntry)
	return entries, args.Error(1)
}

func (m *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// RateLimitRepository 是 repository.RateLimitRepository 的 Mock
type RateLimitRepository struct {
	mock.Mock
}

func (m *RateLimitRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
