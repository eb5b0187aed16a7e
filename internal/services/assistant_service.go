package services

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"ai_page_assistant/internal/dialog"
	"ai_page_assistant/internal/models"
	"ai_page_assistant/internal/stream"

	"github.com/google/uuid"
)

// Completer 流式补全服务
type Completer interface {
	StreamChat(ctx context.Context, model string, messages []models.Message) (stream.FrameSource, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Recipient 接收某个请求全部事件的唯一消费者
type Recipient interface {
	// ID 标识消费者，同一消费者的请求串行执行
	ID() string
	// Deliver 推送事件，不等待消费者确认
	Deliver(event models.StreamEvent) error
}

// ContentSource 提供当前页面文本
type ContentSource interface {
	PageText(ctx context.Context, requestID string) (string, error)
}

// Options 助手服务参数
type Options struct {
	FlushThreshold     int
	PageContentTimeout time.Duration
}

// dialogSession 会话：对话记录和每个消费者正在执行的请求
type dialogSession struct {
	ID           string
	Transcript   *dialog.Transcript
	LastActivity time.Time
	lanes        map[string]*Handle
	conns        int
	// turn 同一会话中写入记录的请求依次执行，保证记录中问答成对
	turn chan struct{}
}

// AssistantService 把命令变成流式补全请求，并把结果分发给消费者
type AssistantService struct {
	completer Completer
	composer  *dialog.Composer
	options   Options
	sessions  map[string]*dialogSession
	mu        sync.Mutex
}

// NewAssistantService 创建助手服务
func NewAssistantService(completer Completer, composer *dialog.Composer, options Options) *AssistantService {
	if options.FlushThreshold <= 0 {
		options.FlushThreshold = stream.DefaultFlushThreshold
	}
	if options.PageContentTimeout <= 0 {
		options.PageContentTimeout = 10 * time.Second
	}
	return &AssistantService{
		completer: completer,
		composer:  composer,
		options:   options,
		sessions:  make(map[string]*dialogSession),
	}
}

// getOrCreateSession 获取或创建会话，调用方需持有 s.mu
func (s *AssistantService) getOrCreateSession(sessionID string) *dialogSession {
	if sess, exists := s.sessions[sessionID]; exists {
		sess.LastActivity = time.Now()
		return sess
	}

	sess := &dialogSession{
		ID:           sessionID,
		Transcript:   dialog.NewTranscript(),
		LastActivity: time.Now(),
		lanes:        make(map[string]*Handle),
		turn:         make(chan struct{}, 1),
	}
	s.sessions[sessionID] = sess
	return sess
}

func (s *AssistantService) transcript(sessionID string) *dialog.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateSession(sessionID).Transcript
}

// SendMessage 发送对话消息，结果写入会话记录
func (s *AssistantService) SendMessage(sessionID string, rcpt Recipient, text, model string) *Handle {
	return s.start(sessionID, rcpt, dialog.KindConversation, model, func(ctx context.Context, _ string, tr *dialog.Transcript) ([]models.Message, uint64, error) {
		return s.composer.Conversation(tr, text)
	})
}

// Summarize 总结页面内容。content 为空时向 src 索取页面文本
func (s *AssistantService) Summarize(sessionID string, rcpt Recipient, src ContentSource, content, model string) *Handle {
	return s.start(sessionID, rcpt, dialog.KindSummarize, model, func(ctx context.Context, requestID string, _ *dialog.Transcript) ([]models.Message, uint64, error) {
		if content == "" && src != nil {
			pageCtx, cancel := context.WithTimeout(ctx, s.options.PageContentTimeout)
			defer cancel()
			text, err := src.PageText(pageCtx, requestID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, 0, ctx.Err()
				}
				log.Printf("获取页面内容失败: %v", err)
				return nil, 0, dialog.ErrContentUnavailable
			}
			content = text
		}
		return oneShot(s.composer.OneShot(dialog.KindSummarize, content))
	})
}

// OneShot 执行语法修正、AI编辑或预测等一次性请求，不读写会话记录
func (s *AssistantService) OneShot(sessionID string, rcpt Recipient, kind dialog.Kind, prompt, model string) *Handle {
	return s.start(sessionID, rcpt, kind, model, func(ctx context.Context, _ string, _ *dialog.Transcript) ([]models.Message, uint64, error) {
		return oneShot(s.composer.OneShot(kind, prompt))
	})
}

// oneShot 一次性请求不写入记录，清空代数无意义
func oneShot(messages []models.Message, err error) ([]models.Message, uint64, error) {
	return messages, 0, err
}

// ClearHistory 清空会话记录
func (s *AssistantService) ClearHistory(sessionID string) {
	s.transcript(sessionID).Reset()
	log.Printf("会话记录已清空: session=%s", sessionID)
}

// History 返回会话记录快照
func (s *AssistantService) History(sessionID string) []models.Message {
	return s.transcript(sessionID).Snapshot()
}

// ListModels 返回可用模型
func (s *AssistantService) ListModels(ctx context.Context) ([]string, error) {
	return s.completer.ListModels(ctx)
}

// AttachConnection 登记会话上的一个长连接，返回的函数在断开时调用。
// 有连接的会话不会被清理。
func (s *AssistantService) AttachConnection(sessionID string) (detach func()) {
	s.mu.Lock()
	s.getOrCreateSession(sessionID).conns++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sess, ok := s.sessions[sessionID]; ok {
				sess.conns--
				sess.LastActivity = time.Now()
			}
		})
	}
}

// ExpireSessions 删除空闲超过 idle 且没有进行中请求和连接的会话，返回删除数量
func (s *AssistantService) ExpireSessions(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, sess := range s.sessions {
		if len(sess.lanes) == 0 && sess.conns == 0 && now.Sub(sess.LastActivity) > idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// CancelRecipient 取消消费者正在执行的请求，消费者断开时调用
func (s *AssistantService) CancelRecipient(sessionID, recipientID string) {
	s.mu.Lock()
	var h *Handle
	if sess, ok := s.sessions[sessionID]; ok {
		h = sess.lanes[recipientID]
	}
	s.mu.Unlock()

	if h != nil {
		h.Cancel()
	}
}

// composeFunc 构建提示词，返回写入用户消息时的清空代数
type composeFunc func(ctx context.Context, requestID string, tr *dialog.Transcript) ([]models.Message, uint64, error)

// start 登记请求并在后台执行。
// 同一消费者的新请求会取消上一个请求，并等上一个请求发出终止事件后才开始。
func (s *AssistantService) start(sessionID string, rcpt Recipient, kind dialog.Kind, model string, compose composeFunc) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(uuid.NewString(), cancel)

	s.mu.Lock()
	sess := s.getOrCreateSession(sessionID)
	prev := sess.lanes[rcpt.ID()]
	sess.lanes[rcpt.ID()] = h
	s.mu.Unlock()

	req := &streamRequest{
		id:         h.RequestID,
		kind:       kind,
		model:      model,
		recipient:  rcpt,
		transcript: sess.Transcript,
		turn:       sess.turn,
		compose:    compose,
	}

	go func() {
		if prev != nil {
			prev.Cancel()
			<-prev.Done()
		}
		res := s.run(ctx, req)

		s.mu.Lock()
		if sess.lanes[rcpt.ID()] == h {
			delete(sess.lanes, rcpt.ID())
		}
		sess.LastActivity = time.Now()
		s.mu.Unlock()

		h.resolve(res)
	}()
	return h
}

// streamRequest 一次触发的请求，创建后不再修改
type streamRequest struct {
	id         string
	kind       dialog.Kind
	model      string
	recipient  Recipient
	transcript *dialog.Transcript
	turn       chan struct{}
	compose    composeFunc
}

// run 执行 构建提示词 → 打开流 → 解码 → 缓冲 → 分发，返回终止结果
func (s *AssistantService) run(ctx context.Context, req *streamRequest) Result {
	d := newDispatcher(req, s.options.FlushThreshold)

	if req.kind.Recorded() {
		select {
		case req.turn <- struct{}{}:
			defer func() { <-req.turn }()
		case <-ctx.Done():
			return d.cancelled()
		}
	}

	// gen 为写入用户消息时的清空代数，之后被清空则不写入助手回复
	messages, gen, err := req.compose(ctx, req.id, req.transcript)
	if err != nil {
		if ctx.Err() != nil {
			return d.cancelled()
		}
		log.Printf("构建提示词失败: request=%s kind=%s err=%v", req.id, req.kind, err)
		return d.fail(err, models.ReplyContentUnavailable)
	}

	src, err := s.completer.StreamChat(ctx, req.model, messages)
	if err != nil {
		if ctx.Err() != nil {
			return d.cancelled()
		}
		log.Printf("打开补全流失败: request=%s err=%v", req.id, err)
		return d.fail(err, models.ReplyTransportError)
	}
	defer src.Close()

	for {
		if ctx.Err() != nil {
			return d.cancelled()
		}

		line, err := src.Next()
		if err != nil {
			if ctx.Err() != nil {
				return d.cancelled()
			}
			if errors.Is(err, io.EOF) {
				return d.complete(gen)
			}
			log.Printf("读取补全流失败: request=%s err=%v", req.id, err)
			return d.fail(err, models.ReplyTransportError)
		}

		frame, err := stream.DecodeFrame(line)
		if err != nil {
			log.Printf("跳过无法解析的帧: request=%s err=%v", req.id, err)
			continue
		}

		switch frame.Kind {
		case stream.FrameEnd:
			return d.complete(gen)
		case stream.FrameData:
			if err := d.push(frame.Delta); err != nil {
				log.Printf("推送事件失败，取消请求: request=%s err=%v", req.id, err)
				return d.abandon(err)
			}
		}
	}
}
