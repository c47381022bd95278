package repository

import (
	"context"
	"sync"
	"time"

	"factcheck-relay/internal/model"
)

// memorySessionRepository 是进程内的会话存储，仅用于单进程部署或远程后端不可用时的回退。
// 记录没有过期时间，随进程结束而消失；多进程部署下各进程的内容互不共享。
type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.SessionRecord
}

// NewMemorySessionRepository 创建一个新的进程内 SessionRepository。
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{sessions: make(map[string]*model.SessionRecord)}
}

func (r *memorySessionRepository) Get(_ context.Context, sessionID string) (*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

// Save 忽略 ttl。
func (r *memorySessionRepository) Save(_ context.Context, sessionID string, record *model.SessionRecord, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = record.Clone()
	return nil
}

func (r *memorySessionRepository) Backend() string { return "memory" }

// Delete 删除会话记录，不存在时什么也不做。
func (r *memorySessionRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}
