package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"factcheck-relay/internal/model"

	_ "modernc.org/sqlite"
)

const queueKeyPrefix = "messageQueue_"

// QueuedMessage 是客户端渲染队列中的一条。
type QueuedMessage struct {
	model.MessagePayload
	IsComplete bool `json:"isComplete"`
}

// PersistedQueue 是渲染队列的持久化副本。
type PersistedQueue struct {
	Queue     []QueuedMessage `json:"queue"`
	Timestamp int64           `json:"timestamp"` // 最后一次写入的毫秒时间戳
}

// WrittenAt 返回记录的写入时间。
func (q *PersistedQueue) WrittenAt() time.Time {
	return time.UnixMilli(q.Timestamp)
}

// QueueStore 以会话 ID 为键保存渲染队列，使其在客户端重启后仍然可用。
type QueueStore interface {
	// Save 覆盖会话的持久化队列，并以 now 作为写入时间。
	Save(ctx context.Context, sessionID string, queue []QueuedMessage, now time.Time) error
	// Load 在没有持久化记录时返回 nil, nil。
	Load(ctx context.Context, sessionID string) (*PersistedQueue, error)
	Remove(ctx context.Context, sessionID string) error
	// Latest 返回最近写入的会话，存储为空时返回 ""。
	Latest(ctx context.Context) (string, *PersistedQueue, error)
	// Sweep 删除 cutoff 之前写入的所有记录，返回删除的条数。
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

func queueKey(sessionID string) string {
	return queueKeyPrefix + sessionID
}

// SQLiteQueueStore 基于本地 SQLite 文件实现 QueueStore。
type SQLiteQueueStore struct {
	db *sql.DB
}

// NewSQLiteQueueStore 打开客户端状态数据库，不存在时创建。
func NewSQLiteQueueStore(dbPath string) (*SQLiteQueueStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &SQLiteQueueStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteQueueStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS render_queues (
		queue_key TEXT PRIMARY KEY,
		queue_json TEXT NOT NULL,
		written_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_render_queues_written ON render_queues(written_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteQueueStore) Save(ctx context.Context, sessionID string, queue []QueuedMessage, now time.Time) error {
	if queue == nil {
		queue = []QueuedMessage{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO render_queues (queue_key, queue_json, written_at) VALUES (?, ?, ?)
		ON CONFLICT(queue_key) DO UPDATE SET queue_json = excluded.queue_json, written_at = excluded.written_at`,
		queueKey(sessionID), string(data), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	return nil
}

func (s *SQLiteQueueStore) Load(ctx context.Context, sessionID string) (*PersistedQueue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT queue_json, written_at FROM render_queues WHERE queue_key = ?`, queueKey(sessionID))
	return scanQueue(row)
}

func (s *SQLiteQueueStore) Remove(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM render_queues WHERE queue_key = ?`, queueKey(sessionID)); err != nil {
		return fmt.Errorf("remove queue: %w", err)
	}
	return nil
}

func (s *SQLiteQueueStore) Latest(ctx context.Context) (string, *PersistedQueue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT queue_key, queue_json, written_at FROM render_queues ORDER BY written_at DESC LIMIT 1`)
	var key, data string
	var writtenAt int64
	if err := row.Scan(&key, &data, &writtenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("query latest queue: %w", err)
	}
	pq, err := decodeQueue(data, writtenAt)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimPrefix(key, queueKeyPrefix), pq, nil
}

func (s *SQLiteQueueStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM render_queues WHERE written_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep queues: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteQueueStore) Close() error {
	return s.db.Close()
}

func scanQueue(row *sql.Row) (*PersistedQueue, error) {
	var data string
	var writtenAt int64
	if err := row.Scan(&data, &writtenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query queue: %w", err)
	}
	return decodeQueue(data, writtenAt)
}

func decodeQueue(data string, writtenAt int64) (*PersistedQueue, error) {
	var queue []QueuedMessage
	if err := json.Unmarshal([]byte(data), &queue); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &PersistedQueue{Queue: queue, Timestamp: writtenAt}, nil
}

// MemoryQueueStore 在内存中保存渲染队列，进程重启后丢失。
type MemoryQueueStore struct {
	mu     sync.Mutex
	queues map[string]PersistedQueue
}

// NewMemoryQueueStore 创建一个空的内存存储。
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{queues: make(map[string]PersistedQueue)}
}

func (m *MemoryQueueStore) Save(_ context.Context, sessionID string, queue []QueuedMessage, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]QueuedMessage, len(queue))
	copy(cp, queue)
	m.queues[queueKey(sessionID)] = PersistedQueue{Queue: cp, Timestamp: now.UnixMilli()}
	return nil
}

func (m *MemoryQueueStore) Load(_ context.Context, sessionID string) (*PersistedQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pq, ok := m.queues[queueKey(sessionID)]
	if !ok {
		return nil, nil
	}
	return clonePersisted(pq), nil
}

func (m *MemoryQueueStore) Remove(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, queueKey(sessionID))
	return nil
}

func (m *MemoryQueueStore) Latest(_ context.Context) (string, *PersistedQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.queues))
	for k := range m.queues {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", nil, nil
	}
	sort.Slice(keys, func(i, j int) bool { return m.queues[keys[i]].Timestamp > m.queues[keys[j]].Timestamp })
	return strings.TrimPrefix(keys[0], queueKeyPrefix), clonePersisted(m.queues[keys[0]]), nil
}

func (m *MemoryQueueStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, pq := range m.queues {
		if pq.Timestamp < cutoff.UnixMilli() {
			delete(m.queues, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryQueueStore) Close() error { return nil }

func clonePersisted(pq PersistedQueue) *PersistedQueue {
	cp := make([]QueuedMessage, len(pq.Queue))
	copy(cp, pq.Queue)
	return &PersistedQueue{Queue: cp, Timestamp: pq.Timestamp}
}
