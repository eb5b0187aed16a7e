package services

import (
	"context"
	"errors"
	"log"

	"ai_page_assistant/internal/models"
	"ai_page_assistant/internal/stream"
)

// Result 请求的终止结果
type Result struct {
	RequestID string
	Reply     string // 已分发片段拼接成的完整回复
	Err       error  // 成功时为nil
}

// Cancelled 请求是否被取消
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, context.Canceled)
}

// Handle 单个请求的句柄，终止事件发出后完成
type Handle struct {
	RequestID string
	done      chan struct{}
	cancel    context.CancelFunc
	result    Result
}

func newHandle(requestID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		RequestID: requestID,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// Done 请求终止时关闭
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel 取消请求，已终止的请求不受影响
func (h *Handle) Cancel() {
	h.cancel()
}

// Result 返回终止结果，须在 Done 关闭后调用
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Wait 等待请求终止
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) resolve(r Result) {
	h.result = r
	close(h.done)
	h.cancel()
}

// dispatcher 把缓冲后的片段按顺序推送给请求的消费者
type dispatcher struct {
	req *streamRequest
	buf *stream.FlushBuffer
}

func newDispatcher(req *streamRequest, threshold int) *dispatcher {
	return &dispatcher{req: req, buf: stream.NewFlushBuffer(threshold)}
}

func (d *dispatcher) deliver(reply string, done bool) error {
	return d.req.recipient.Deliver(models.StreamEvent{
		Action:    models.ActionStreamResponse,
		Reply:     reply,
		Done:      done,
		RequestID: d.req.id,
	})
}

// push 缓冲增量文本，满足条件时推送片段
func (d *dispatcher) push(delta string) error {
	if chunk, ok := d.buf.Push(delta); ok {
		return d.deliver(chunk, false)
	}
	return nil
}

// flush 推送剩余片段
func (d *dispatcher) flush() error {
	if chunk, ok := d.buf.Finish(); ok {
		return d.deliver(chunk, false)
	}
	return nil
}

func (d *dispatcher) result(err error) Result {
	return Result{RequestID: d.req.id, Reply: d.buf.Full(), Err: err}
}

// complete 流正常结束：最后一次推送、写入助手回复、发出终止事件
func (d *dispatcher) complete(gen uint64) Result {
	if err := d.flush(); err != nil {
		return d.abandon(err)
	}
	if d.req.kind.Recorded() {
		if !d.req.transcript.AppendIf(gen, models.AssistantMessage(d.buf.Full())) {
			log.Printf("会话记录已被清空，丢弃回复: request=%s", d.req.id)
		}
	}
	if err := d.deliver("", true); err != nil {
		log.Printf("推送终止事件失败: request=%s err=%v", d.req.id, err)
	}
	return d.result(nil)
}

// fail 以一条用户可见的错误消息终止请求，不写入助手回复
func (d *dispatcher) fail(err error, reply string) Result {
	if ferr := d.flush(); ferr != nil {
		return d.abandon(ferr)
	}
	if derr := d.deliver(reply, true); derr != nil {
		log.Printf("推送错误事件失败: request=%s err=%v", d.req.id, derr)
	}
	return d.result(err)
}

// cancelled 请求被取消：推送剩余片段后发出空的终止事件
func (d *dispatcher) cancelled() Result {
	if err := d.flush(); err != nil {
		return d.abandon(context.Canceled)
	}
	if err := d.deliver("", true); err != nil {
		log.Printf("推送终止事件失败: request=%s err=%v", d.req.id, err)
	}
	return d.result(context.Canceled)
}

// abandon 消费者已不可达，不再推送任何事件
func (d *dispatcher) abandon(err error) Result {
	return d.result(err)
}
