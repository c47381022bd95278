package storage

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"factcheck-relay/internal/model"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakePutter) PutObject(_ context.Context, bucket, name string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+name] = body
	return minio.UploadInfo{Bucket: bucket, Key: name}, nil
}

func testMessage(typ string, ts time.Time) model.Message {
	return model.Message{
		MessagePayload: model.MessagePayload{Type: typ, Header: "h", Content: "c"},
		Timestamp:      ts,
	}
}

func TestArchive_WritesOneObjectPerMessage(t *testing.T) {
	putter := &fakePutter{}
	a := NewArchive(putter, "relay-archive", 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ts := time.Unix(0, 1700000000000000000).UTC()
	a.Archive("s1", testMessage("CLAIM", ts))
	a.Archive("s1", testMessage("END", ts.Add(time.Nanosecond)))
	cancel()
	require.NoError(t, <-done)

	require.Len(t, putter.objects, 2)
	body, ok := putter.objects["relay-archive/sessions/s1/1700000000000000000-CLAIM.json"]
	require.True(t, ok)
	var got model.Message
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, "CLAIM", got.Type)
	require.Contains(t, putter.objects, "relay-archive/sessions/s1/1700000000000000001-END.json")

	// 关闭后再归档直接忽略
	a.Archive("s1", testMessage("LATE", ts))
	require.Len(t, putter.objects, 2)
}

func TestArchive_DropsWhenQueueFull(t *testing.T) {
	a := NewArchive(&fakePutter{}, "b", 1)
	a.Archive("s1", testMessage("A", time.Now()))
	a.Archive("s1", testMessage("B", time.Now()))
	require.Len(t, a.queue, 1)
}

// blockingPutter 在 release 关闭前阻塞写入，并记录写入结束时 ctx 的状态。
type blockingPutter struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
	name    string
}

func (b *blockingPutter) PutObject(ctx context.Context, _ string, name string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	if b.ctxErr != nil {
		return minio.UploadInfo{}, b.ctxErr
	}
	b.name = name
	return minio.UploadInfo{Key: name}, nil
}

func TestArchive_InFlightPutSurvivesShutdown(t *testing.T) {
	putter := &blockingPutter{started: make(chan struct{}), release: make(chan struct{})}
	a := NewArchive(putter, "b", 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Archive("s1", testMessage("CLAIM", time.Unix(0, 42)))
	<-putter.started
	cancel()
	close(putter.release)
	require.NoError(t, <-done)

	require.NoError(t, putter.ctxErr)
	require.Equal(t, "sessions/s1/42-CLAIM.json", putter.name)
}
