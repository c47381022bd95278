// Package storage 提供了把中转消息归档到对象存储（MinIO）的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"factcheck-relay/internal/config"
	"factcheck-relay/internal/model"
	"factcheck-relay/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPutter 是归档用到的 minio.Client 方法。
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type archiveEntry struct {
	sessionID string
	msg       model.Message
}

// Archive 异步地把每条入队消息写成一个对象：sessions/<sessionId>/<unix-nanos>-<type>.json。
// 队列满时丢弃并记录告警，从不阻塞消息投递。
type Archive struct {
	client objectPutter
	bucket string
	queue  chan archiveEntry

	closeOnce sync.Once
	done      chan struct{}
}

// NewMinIOClient 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOClient(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 客户端初始化成功, bucket: %s", cfg.BucketName)
	return client, nil
}

const putTimeout = 5 * time.Second

// NewArchive 创建归档器，queueSize 为待写入消息的缓冲大小。
func NewArchive(client objectPutter, bucket string, queueSize int) *Archive {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Archive{
		client: client,
		bucket: bucket,
		queue:  make(chan archiveEntry, queueSize),
		done:   make(chan struct{}),
	}
}

// Archive 把消息放入写入队列，满足 service.Archiver。
func (a *Archive) Archive(sessionID string, msg model.Message) {
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.queue <- archiveEntry{sessionID: sessionID, msg: msg}:
	default:
		log.Warnw("归档队列已满，丢弃消息", "sessionId", sessionID, "type", msg.Type)
	}
}

// Run 持续把队列中的消息写入 MinIO，ctx 结束后写完已排队的消息再返回。
func (a *Archive) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-a.queue:
			a.put(entry)
		case <-ctx.Done():
			a.closeOnce.Do(func() { close(a.done) })
			a.drain()
			return nil
		}
	}
}

func (a *Archive) drain() {
	for {
		select {
		case entry := <-a.queue:
			a.put(entry)
		default:
			return
		}
	}
}

func objectName(entry archiveEntry) string {
	return fmt.Sprintf("sessions/%s/%d-%s.json", entry.sessionID, entry.msg.Timestamp.UnixNano(), entry.msg.Type)
}

// put 使用独立的超时上下文，停机时正在写入的对象不会因 Run 的 ctx 取消而丢失。
func (a *Archive) put(entry archiveEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	body, err := json.Marshal(entry.msg)
	if err != nil {
		log.Errorf("序列化归档消息失败: %v", err)
		return
	}
	name := objectName(entry)
	_, err = a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		log.Errorw("写入归档对象失败", "object", name, "error", err)
	}
}
