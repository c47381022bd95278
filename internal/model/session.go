// Package model 包含了应用的数据模型定义。
package model

import "time"

// MessageTypeEnd 是终止哨兵类型，收到它表示一次回答序列已经完整。
const MessageTypeEnd = "END"

// MessagePayload 是一条消息对外可见的内容，也是入队请求与出队响应中的 message 字段。
type MessagePayload struct {
	Type    string `json:"type"`
	Header  string `json:"header"`
	Content string `json:"content"`
}

// IsEnd 判断该消息是否为终止哨兵。
func (p MessagePayload) IsEnd() bool {
	return p.Type == MessageTypeEnd
}

// Complete 判断 type、header、content 是否都已填写。
func (p MessagePayload) Complete() bool {
	return p.Type != "" && p.Header != "" && p.Content != ""
}

// Message 代表队列中的一条消息。创建后不可修改，队列只允许尾部追加和头部弹出。
type Message struct {
	MessagePayload
	Timestamp time.Time `json:"timestamp"` // 仅供参考，投递顺序以队列位置为准
}

// SessionRecord 是每个会话 ID 对应的一条记录，远程后端与进程内存储保存的是同一个逻辑结构。
type SessionRecord struct {
	Messages   []Message `json:"messages"`
	IsComplete bool      `json:"isComplete"`
}

// NewSessionRecord 创建一个空的会话记录。
func NewSessionRecord() *SessionRecord {
	return &SessionRecord{Messages: []Message{}}
}

// Clone 返回记录的副本，队列底层数组不与原记录共享。
func (r *SessionRecord) Clone() *SessionRecord {
	msgs := make([]Message, len(r.Messages))
	copy(msgs, r.Messages)
	return &SessionRecord{Messages: msgs, IsComplete: r.IsComplete}
}

// Append 在队列尾部追加一条消息；终止哨兵会把 IsComplete 置为 true，且不会被重置。
func (r *SessionRecord) Append(msg Message) {
	r.Messages = append(r.Messages, msg)
	if msg.IsEnd() {
		r.IsComplete = true
	}
}

// Pop 移除并返回队首消息，队列为空时 ok 为 false。
func (r *SessionRecord) Pop() (msg Message, ok bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	msg = r.Messages[0]
	r.Messages = r.Messages[1:]
	return msg, true
}
