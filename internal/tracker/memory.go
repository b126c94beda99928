package tracker

import (
	"context"
	"sync"
	"time"

	"imagepipeline/internal/models"
)

// Memory is a mutex-serialized StatusStore. All merges for all
// correlationIds go through one lock, which gives the same single-writer
// guarantee the SQL store gets from per-row atomicity.
type Memory struct {
	mu       sync.Mutex
	statuses map[string]*models.ProcessingStatus
	writes   int
}

func NewMemory() *Memory {
	return &Memory{statuses: make(map[string]*models.ProcessingStatus)}
}

func (m *Memory) MarkComplete(_ context.Context, event models.CompletionEvent) (models.ProcessingStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[event.CorrelationID]
	if !ok {
		status = &models.ProcessingStatus{
			CorrelationID:      event.CorrelationID,
			OriginalStorageKey: event.OriginalStorageKey,
		}
		m.statuses[event.CorrelationID] = status
	}

	alreadySet := status.Flag(event.ResizeType)
	status.SetFlag(event.ResizeType)
	m.writes++

	return *status, alreadySet, nil
}

func (m *Memory) ClaimTerminal(_ context.Context, correlationID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[correlationID]
	if !ok {
		return false, models.ErrNotFound
	}
	if !status.AllComplete() || status.CompletedAt != nil {
		return false, nil
	}
	status.CompletedAt = &at
	m.writes++
	return true, nil
}

func (m *Memory) ClaimNotify(_ context.Context, correlationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[correlationID]
	if !ok {
		return false, models.ErrNotFound
	}
	if status.CompletedAt == nil || status.Notified {
		return false, nil
	}
	status.Notified = true
	m.writes++
	return true, nil
}

func (m *Memory) ResetNotify(_ context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[correlationID]
	if !ok {
		return models.ErrNotFound
	}
	status.Notified = false
	m.writes++
	return nil
}

func (m *Memory) GetStatus(_ context.Context, correlationID string) (models.ProcessingStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[correlationID]
	if !ok {
		return models.ProcessingStatus{}, models.ErrNotFound
	}
	return *status, nil
}

// Writes reports the total number of status writes, no-op merges included.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
