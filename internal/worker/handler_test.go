package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/repository"
	"collaborative-whiteboard/internal/repository/mocks"
	"collaborative-whiteboard/internal/tasks"
)

func newEntry() domain.AuditEntry {
	return domain.AuditEntry{
		EventID:    "evt-1",
		RoomID:     "R1",
		Event:      domain.AuditJoinAccepted,
		Username:   "alice",
		Role:       string(domain.RoleEditor),
		OccurredAt: time.Now().UTC(),
	}
}

func TestAuditPersistenceHandler_Success(t *testing.T) {
	repo := new(mocks.AuditRepository)
	entry := newEntry()
	repo.On("SaveBatch", mock.Anything, mock.MatchedBy(func(entries []domain.AuditEntry) bool {
		return len(entries) == 1 && entries[0].EventID == entry.EventID && entries[0].RoomID == "R1"
	})).Return(nil).Once()

	task, err := tasks.NewAuditPersistTask(entry)
	require.NoError(t, err)

	err = NewAuditPersistenceHandler(repo).ProcessTask(context.Background(), task)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAuditPersistenceHandler_DuplicateIsSuccess(t *testing.T) {
	repo := new(mocks.AuditRepository)
	repo.On("SaveBatch", mock.Anything, mock.Anything).Return(repository.ErrDuplicateEntry).Once()

	task, err := tasks.NewAuditPersistTask(newEntry())
	require.NoError(t, err)

	assert.NoError(t, NewAuditPersistenceHandler(repo).ProcessTask(context.Background(), task))
}

func TestAuditPersistenceHandler_RepositoryErrorIsRetried(t *testing.T) {
	repo := new(mocks.AuditRepository)
	repo.On("SaveBatch", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	task, err := tasks.NewAuditPersistTask(newEntry())
	require.NoError(t, err)

	err = NewAuditPersistenceHandler(repo).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "存储错误应该允许重试")
}

func TestAuditPersistenceHandler_BadPayloadSkipsRetry(t *testing.T) {
	repo := new(mocks.AuditRepository)
	task := asynq.NewTask(tasks.TypeAuditPersist, []byte("{not json"))

	err := NewAuditPersistenceHandler(repo).ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	repo.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestAuditPruneHandler_DeletesBeforeCutoff(t *testing.T) {
	repo := new(mocks.AuditRepository)
	fixed := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.On("DeleteBefore", mock.Anything, want).Return(int64(7), nil).Once()

	h := NewAuditPruneHandler(repo)
	h.now = func() time.Time { return fixed }

	task, err := tasks.NewAuditPruneTask(30)
	require.NoError(t, err)
	assert.NoError(t, h.ProcessTask(context.Background(), task))
	repo.AssertExpectations(t)
}

func TestAuditPruneHandler_NonPositiveRetentionIsNoop(t *testing.T) {
	repo := new(mocks.AuditRepository)
	task, err := tasks.NewAuditPruneTask(0)
	require.NoError(t, err)

	assert.NoError(t, NewAuditPruneHandler(repo).ProcessTask(context.Background(), task))
	repo.AssertNotCalled(t, "DeleteBefore", mock.Anything, mock.Anything)
}

func TestServeMux_RoutesAuditTasks(t *testing.T) {
	repo := new(mocks.AuditRepository)
	repo.On("SaveBatch", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("DeleteBefore", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil).Once()
	mux := NewServeMux(repo)

	persist, err := tasks.NewAuditPersistTask(newEntry())
	require.NoError(t, err)
	assert.NoError(t, mux.ProcessTask(context.Background(), persist))

	prune, err := tasks.NewAuditPruneTask(7)
	require.NoError(t, err)
	assert.NoError(t, mux.ProcessTask(context.Background(), prune))

	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("snapshot:generate", nil)))
	repo.AssertExpectations(t)
}
