// Package stream 解析补全服务的流式帧，并把增量文本聚合成适合界面展示的片段
package stream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"
	contentPath = "choices.0.delta.content"
)

// FrameSource 原始帧的顺序来源，Next 在流正常结束时返回 io.EOF
type FrameSource interface {
	Next() (string, error)
	Close() error
}

// FrameKind 帧解析结果类型
type FrameKind int

const (
	FrameIgnored FrameKind = iota // 空行、非数据行、无内容的数据帧
	FrameData                     // 携带增量文本
	FrameEnd                      // 流结束标记
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FrameEnd:
		return "end"
	default:
		return "ignored"
	}
}

// Frame 单帧解析结果
type Frame struct {
	Kind  FrameKind
	Delta string
}

// FrameDecodeError 数据帧载荷不是合法JSON
type FrameDecodeError struct {
	Payload string
}

func (e *FrameDecodeError) Error() string {
	payload := e.Payload
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	return fmt.Sprintf("malformed frame payload: %q", payload)
}

// DecodeFrame 解析一行流式响应。
// 返回错误时帧同时被标记为 FrameIgnored，调用方记录后继续读取下一帧。
func DecodeFrame(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || !strings.HasPrefix(line, dataPrefix) {
		return Frame{Kind: FrameIgnored}, nil
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneMarker {
		return Frame{Kind: FrameEnd}, nil
	}
	if !gjson.Valid(payload) {
		return Frame{Kind: FrameIgnored}, &FrameDecodeError{Payload: payload}
	}

	content := gjson.Get(payload, contentPath)
	if content.Type != gjson.String || content.Str == "" {
		return Frame{Kind: FrameIgnored}, nil
	}
	return Frame{Kind: FrameData, Delta: content.Str}, nil
}
