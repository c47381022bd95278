// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factcheck-relay/internal/model"
	"factcheck-relay/internal/repository"
	"factcheck-relay/pkg/log"
)

var (
	// ErrMissingSessionID 表示请求缺少 sessionId。
	ErrMissingSessionID = errors.New("sessionId is required")
	// ErrMissingFields 表示 type、header、content 至少有一个为空。
	ErrMissingFields = errors.New("type, header, and content are required")
)

// Archiver 接收每一条已入队的消息，实现方不得阻塞调用方。
type Archiver interface {
	Archive(sessionID string, msg model.Message)
}

// DequeueResult 是一次出队的结果。
// IsComplete 为 nil 表示该会话从未入队过任何消息。
type DequeueResult struct {
	HasMessage bool
	Message    model.MessagePayload
	IsComplete *bool
}

// RelayService 定义了会话消息中转的业务接口。
type RelayService interface {
	Enqueue(ctx context.Context, sessionID string, in model.MessagePayload) error
	Dequeue(ctx context.Context, sessionID string) (*DequeueResult, error)
}

type relayService struct {
	repo     repository.SessionRepository
	ttl      time.Duration
	archiver Archiver
	now      func() time.Time
}

// RelayOption 用于定制 relayService。
type RelayOption func(*relayService)

// WithArchiver 为每条入队消息挂接归档。
func WithArchiver(a Archiver) RelayOption {
	return func(s *relayService) { s.archiver = a }
}

// WithClock 替换服务端时间戳的来源。
func WithClock(now func() time.Time) RelayOption {
	return func(s *relayService) { s.now = now }
}

// NewRelayService 创建一个新的 RelayService。
// 记录的读-改-写不是事务性的，并发写同一会话时后写者覆盖整条记录。
func NewRelayService(repo repository.SessionRepository, ttl time.Duration, opts ...RelayOption) RelayService {
	s := &relayService{repo: repo, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue 将一条消息追加到会话队列尾部；终止哨兵会把会话标记为完成。
func (s *relayService) Enqueue(ctx context.Context, sessionID string, in model.MessagePayload) error {
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if !in.Complete() {
		return ErrMissingFields
	}

	record, writer, err := repository.Load(ctx, s.repo, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if record == nil {
		record = model.NewSessionRecord()
	}

	msg := model.Message{MessagePayload: in, Timestamp: s.now().UTC()}
	record.Append(msg)

	if err := writer.Save(ctx, sessionID, record, s.ttl); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	log.Infow("[RelayService] 消息已入队",
		"sessionId", sessionID,
		"type", in.Type,
		"queueLength", len(record.Messages),
		"isComplete", record.IsComplete,
	)

	if s.archiver != nil {
		s.archiver.Archive(sessionID, msg)
	}
	return nil
}

// Dequeue 弹出会话中最早的一条消息，每次最多返回一条。
// 弹出后先持久化较短的队列再返回；持久化失败只记录日志，消息仍返回给本次调用方，
// 因此同一条消息可能被重复投递。
func (s *relayService) Dequeue(ctx context.Context, sessionID string) (*DequeueResult, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	record, writer, err := repository.Load(ctx, s.repo, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if record == nil {
		return &DequeueResult{HasMessage: false}, nil
	}

	isComplete := record.IsComplete
	msg, ok := record.Pop()
	if !ok {
		return &DequeueResult{HasMessage: false, IsComplete: &isComplete}, nil
	}

	if err := writer.Save(ctx, sessionID, record, s.ttl); err != nil {
		log.Errorw("[RelayService] 出队后保存会话失败，消息可能被重复投递", "sessionId", sessionID, "error", err)
	}
	log.Infow("[RelayService] 消息已出队",
		"sessionId", sessionID,
		"type", msg.Type,
		"remaining", len(record.Messages),
	)

	return &DequeueResult{HasMessage: true, Message: msg.MessagePayload, IsComplete: &isComplete}, nil
}
