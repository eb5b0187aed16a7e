// Package dialog 提供对话记录与提示词构建
package dialog

import (
	"sync"

	"ai_page_assistant/internal/models"
)

// Transcript 单个会话的对话记录，只追加，只能整体清空。
// 记录没有容量上限，长会话会持续增长。
type Transcript struct {
	mu         sync.RWMutex
	messages   []models.Message
	generation uint64
}

// NewTranscript 创建空的对话记录
func NewTranscript() *Transcript {
	return &Transcript{messages: make([]models.Message, 0)}
}

// Append 追加一条消息
func (t *Transcript) Append(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// AppendSnapshot 追加一条消息，并在同一把锁内返回包含它的历史和当前清空代数
func (t *Transcript) AppendSnapshot(msg models.Message) ([]models.Message, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)

	history := make([]models.Message, len(t.messages))
	copy(history, t.messages)
	return history, t.generation
}

// AppendIf 仅当记录自 gen 之后未被清空时追加消息
func (t *Transcript) AppendIf(gen uint64, msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// Reset 清空记录
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	// 换新切片，已发出的快照不受影响
	t.messages = make([]models.Message, 0)
	t.generation++
}

// Snapshot 按插入顺序返回记录的副本
func (t *Transcript) Snapshot() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	history := make([]models.Message, len(t.messages))
	copy(history, t.messages)
	return history
}

// Len 返回消息数量
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Generation 返回当前清空代数
func (t *Transcript) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}
