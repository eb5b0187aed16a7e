package stream

import (
	"strings"
	"unicode/utf8"
)

// DefaultFlushThreshold 待发送片段超过该字符数即发送
const DefaultFlushThreshold = 20

const sentenceTerminals = ".!?"

// FlushBuffer 把增量文本聚合成片段。
// 所有发出的片段按顺序拼接后等于 Full()。
type FlushBuffer struct {
	threshold int
	full      strings.Builder
	pending   strings.Builder
}

// NewFlushBuffer 创建缓冲区，threshold 非正数时使用默认值
func NewFlushBuffer(threshold int) *FlushBuffer {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &FlushBuffer{threshold: threshold}
}

// Push 追加增量文本，满足发送条件时返回待发送片段并清空
func (b *FlushBuffer) Push(delta string) (string, bool) {
	if delta == "" {
		return "", false
	}
	b.full.WriteString(delta)
	b.pending.WriteString(delta)

	pending := b.pending.String()
	if utf8.RuneCountInString(pending) > b.threshold || strings.ContainsAny(pending, sentenceTerminals) {
		b.pending.Reset()
		return pending, true
	}
	return "", false
}

// Finish 流结束时取出剩余的片段
func (b *FlushBuffer) Finish() (string, bool) {
	if b.pending.Len() == 0 {
		return "", false
	}
	pending := b.pending.String()
	b.pending.Reset()
	return pending, true
}

// Pending 返回尚未发送的文本
func (b *FlushBuffer) Pending() string {
	return b.pending.String()
}

// Full 返回本次请求累计的完整文本
func (b *FlushBuffer) Full() string {
	return b.full.String()
}
