// Package kafka 提供了通过 Kafka 接入后端消息的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"factcheck-relay/internal/config"
	"factcheck-relay/internal/model"
	"factcheck-relay/internal/service"
	"factcheck-relay/pkg/log"
	"factcheck-relay/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// MessageSink 定义了消费到的消息交给谁处理，RelayService 满足该接口。
// 这样 Kafka 消费者与具体的中转实现解耦。
type MessageSink interface {
	Enqueue(ctx context.Context, sessionID string, in model.MessagePayload) error
}

// messageReader 是 kafka.Reader 中消费者用到的方法。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const maxAttempts = 3

// NewProducer 创建一个写入消息接入主题的 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{}, // 同一会话落在同一分区，保证顺序
	}
}

// ProduceMessage 以 sessionId 为 key 发送一条中转消息到 Kafka。
func ProduceMessage(ctx context.Context, producer *kafka.Writer, task tasks.RelayMessageTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SessionID),
		Value: taskBytes,
	})
}

// StartConsumer 启动一个 Kafka 消费者，把接入主题中的消息写入会话队列，直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, sink MessageSink) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	return consume(ctx, r, sink)
}

func consume(ctx context.Context, r messageReader, sink MessageSink) error {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			// 与 HTTP 端点共用一个 errgroup，读取失败只停止消费者，不拖垮中转服务
			log.Error("从 Kafka 读取消息失败，消费者退出", err)
			return nil
		}

		var task tasks.RelayMessageTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			// 消息格式错误，直接提交，避免阻塞队列
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			commit(ctx, r, m)
			continue
		}

		payload := model.MessagePayload{Type: task.Type, Header: task.Header, Content: task.Content}
		if err := enqueueWithRetry(ctx, sink, task.SessionID, payload); err != nil {
			log.Errorw("Kafka 消息写入会话队列失败，已跳过", "sessionId", task.SessionID, "offset", m.Offset, "error", err)
		}
		commit(ctx, r, m)
	}
}

// enqueueWithRetry 对非校验错误做有限次数的重试；校验错误重试也不会成功，直接返回。
func enqueueWithRetry(ctx context.Context, sink MessageSink, sessionID string, payload model.MessagePayload) error {
	var err error
	delay := 100 * time.Millisecond
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = sink.Enqueue(ctx, sessionID, payload)
		if err == nil || errors.Is(err, service.ErrMissingSessionID) || errors.Is(err, service.ErrMissingFields) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
