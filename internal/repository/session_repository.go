// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"factcheck-relay/internal/model"
	"factcheck-relay/pkg/log"

	"github.com/go-redis/redis/v8"
)

// ErrMalformedRecord 表示存储中的会话记录无法解析为预期结构。
// 它不属于传输错误，不会触发回退。
var ErrMalformedRecord = errors.New("malformed session record")

// SessionRepository 定义了会话记录的读写接口。
type SessionRepository interface {
	// Get 返回会话记录；会话不存在时返回 nil, nil。
	Get(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	// Save 覆盖写入整条记录，ttl 仅对支持过期的后端生效。
	Save(ctx context.Context, sessionID string, record *model.SessionRecord, ttl time.Duration) error
	// Backend 返回实际使用的后端名称，用于健康检查。
	Backend() string
}

// NewSessionRepository 在启动时选择一次实现：没有 Redis 客户端时只用进程内存储，
// 否则以 Redis 为主、进程内存储为单次调用的回退。
func NewSessionRepository(rdb *redis.Client) SessionRepository {
	memory := NewMemorySessionRepository()
	if rdb == nil {
		return memory
	}
	return NewFallbackSessionRepository(NewRedisSessionRepository(rdb), memory)
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewRedisSessionRepository 创建一个基于 Redis 的 SessionRepository 实例。
func NewRedisSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Get 从 Redis 获取会话记录。
func (r *redisSessionRepository) Get(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	jsonData, err := r.redisClient.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return decodeRecord([]byte(jsonData))
}

// Save 将会话记录写入 Redis 并设置过期时间。
func (r *redisSessionRepository) Save(ctx context.Context, sessionID string, record *model.SessionRecord, ttl time.Duration) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := r.redisClient.Set(ctx, sessionKey(sessionID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session record: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) Backend() string { return "redis" }

// decodeRecord 解析存储中的 JSON；messages 为 null 的旧记录按空队列处理。
func decodeRecord(data []byte) (*model.SessionRecord, error) {
	var record model.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if record.Messages == nil {
		record.Messages = []model.Message{}
	}
	return &record, nil
}

// RecordWriter 写回一次读-改-写周期中修改过的记录。
type RecordWriter interface {
	Save(ctx context.Context, sessionID string, record *model.SessionRecord, ttl time.Duration) error
}

// cycleLoader 由需要在一个读-改-写周期内固定后端的实现提供。
type cycleLoader interface {
	Load(ctx context.Context, sessionID string) (*model.SessionRecord, RecordWriter, error)
}

// Load 读取会话记录，并返回同一周期内写回时应使用的 RecordWriter。
// 读取由哪个后端完成，写回就落到哪个后端，避免用回退得到的记录覆盖远程的完整记录。
func Load(ctx context.Context, repo SessionRepository, sessionID string) (*model.SessionRecord, RecordWriter, error) {
	if l, ok := repo.(cycleLoader); ok {
		return l.Load(ctx, sessionID)
	}
	record, err := repo.Get(ctx, sessionID)
	return record, repo, err
}

type recordDeleter interface {
	Delete(ctx context.Context, sessionID string) error
}

// fallbackSessionRepository 组合远程与进程内两个实现。
// 远程读取出现传输错误时，本次读-改-写周期整体由进程内存储完成，远程记录保持不变；
// 下一次调用仍会先尝试远程。远程恢复后，进程内暂存的消息会在下一次成功读取时并入远程记录。
type fallbackSessionRepository struct {
	primary  SessionRepository
	fallback SessionRepository
}

// NewFallbackSessionRepository 创建带回退能力的 SessionRepository。
func NewFallbackSessionRepository(primary, fallback SessionRepository) SessionRepository {
	return &fallbackSessionRepository{primary: primary, fallback: fallback}
}

func (r *fallbackSessionRepository) Get(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	record, _, err := r.Load(ctx, sessionID)
	return record, err
}

func (r *fallbackSessionRepository) Load(ctx context.Context, sessionID string) (*model.SessionRecord, RecordWriter, error) {
	record, err := r.primary.Get(ctx, sessionID)
	if errors.Is(err, ErrMalformedRecord) {
		return nil, nil, err
	}
	if err != nil {
		log.Warnw("远程后端读取失败，本次回退到进程内存储", "sessionId", sessionID, "error", err)
		record, err = r.fallback.Get(ctx, sessionID)
		return record, r.fallback, err
	}

	pending, err := r.fallback.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if pending != nil && (len(pending.Messages) > 0 || pending.IsComplete) {
		// 远程不可达期间暂存的消息排在远程已有消息之后
		if record == nil {
			record = model.NewSessionRecord()
		}
		for _, msg := range pending.Messages {
			record.Append(msg)
		}
		if pending.IsComplete {
			record.IsComplete = true
		}
	} else {
		pending = nil
	}

	baseLen := 0
	if record != nil {
		baseLen = len(record.Messages)
	}
	return record, &primaryCycle{repo: r, pending: pending, baseLen: baseLen}, nil
}

// Save 不属于任何读取周期时使用：先写远程，失败时写进程内存储。
func (r *fallbackSessionRepository) Save(ctx context.Context, sessionID string, record *model.SessionRecord, ttl time.Duration) error {
	err := r.primary.Save(ctx, sessionID, record, ttl)
	if err == nil {
		return nil
	}
	log.Warnw("远程后端写入失败，本次回退到进程内存储", "sessionId", sessionID, "error", err)
	return r.fallback.Save(ctx, sessionID, record, ttl)
}

func (r *fallbackSessionRepository) Backend() string {
	return r.primary.Backend() + "+" + r.fallback.Backend()
}

// primaryCycle 是读取由远程完成的周期的写回方。
type primaryCycle struct {
	repo    *fallbackSessionRepository
	pending *model.SessionRecord // 本次读取时并入的进程内暂存记录
	baseLen int                  // 读取（含并入）后的队列长度
}

func (c *primaryCycle) Save(ctx context.Context, sessionID string, record *model.SessionRecord, ttl time.Duration) error {
	err := c.repo.primary.Save(ctx, sessionID, record, ttl)
	if err == nil {
		if c.pending != nil {
			c.clearPending(ctx, sessionID)
		}
		return nil
	}

	// 远程中已有的消息不能复制进进程内存储，否则远程恢复后会被重复并入。
	// 只暂存本周期新追加的消息；没有新追加（例如出队）时把错误交给调用方。
	if len(record.Messages) <= c.baseLen {
		return err
	}
	log.Warnw("远程后端写入失败，新消息暂存到进程内存储", "sessionId", sessionID, "error", err)
	keep := model.NewSessionRecord()
	if c.pending != nil {
		for _, msg := range c.pending.Messages {
			keep.Append(msg)
		}
		keep.IsComplete = keep.IsComplete || c.pending.IsComplete
	}
	for _, msg := range record.Messages[c.baseLen:] {
		keep.Append(msg)
	}
	return c.repo.fallback.Save(ctx, sessionID, keep, ttl)
}

func (c *primaryCycle) clearPending(ctx context.Context, sessionID string) {
	d, ok := c.repo.fallback.(recordDeleter)
	if !ok {
		return
	}
	if err := d.Delete(ctx, sessionID); err != nil {
		log.Warnw("清理进程内暂存记录失败", "sessionId", sessionID, "error", err)
		return
	}
	log.Infow("进程内暂存的消息已并入远程记录", "sessionId", sessionID, "merged", len(c.pending.Messages))
}
