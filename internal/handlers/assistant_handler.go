package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"ai_page_assistant/internal/config"
	"ai_page_assistant/internal/dialog"
	"ai_page_assistant/internal/models"
	"ai_page_assistant/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RecipientHeader HTTP命令接口中可选的消费者标识，同一标识的请求串行执行
const RecipientHeader = "X-Recipient-ID"

const maxMessageSize = 4 << 20

var errClientGone = errors.New("HTTP客户端已断开")

// AssistantHandler 浮层命令处理器
type AssistantHandler struct {
	svc      *services.AssistantService
	upgrader websocket.Upgrader
	wsConfig config.WebSocketConfig
}

// NewAssistantHandler 创建浮层命令处理器
func NewAssistantHandler(svc *services.AssistantService, wsConfig config.WebSocketConfig, allowedOrigins []string) *AssistantHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &AssistantHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   wsConfig.ReadBufferSize,
			WriteBufferSize:  wsConfig.WriteBufferSize,
		},
		wsConfig: wsConfig,
	}
}

// HandleWebSocket 处理浮层的WebSocket连接
func (h *AssistantHandler) HandleWebSocket(c *gin.Context) {
	// 升级HTTP连接为WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("升级WebSocket连接失败: %v", err)
		return
	}

	// 未指定会话时每个连接独占一个会话
	client := newWSClient(conn, c.Query("session_id"))
	log.Printf("浮层已连接: session=%s client=%s", client.sessionID, client.id)

	detach := h.svc.AttachConnection(client.sessionID)
	done := make(chan struct{})
	defer func() {
		close(done)
		detach()
		h.svc.CancelRecipient(client.sessionID, client.lane(laneChat).ID())
		h.svc.CancelRecipient(client.sessionID, client.lane(laneEdit).ID())
		conn.Close()
		log.Printf("浮层已断开: session=%s client=%s", client.sessionID, client.id)
	}()

	// 设置连接属性
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.wsConfig.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.wsConfig.PongWait))
		return nil
	})
	go h.keepAlive(client, done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("读取WebSocket消息失败: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd models.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("解析命令失败: %v", err)
			continue
		}
		h.dispatchCommand(client, cmd)
	}
}

// keepAlive 定期发送心跳
func (h *AssistantHandler) keepAlive(client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(h.wsConfig.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				log.Printf("发送心跳失败: %v", err)
				return
			}
		}
	}
}

// dispatchCommand 执行一条WebSocket命令，流式结果由服务直接推送给连接
func (h *AssistantHandler) dispatchCommand(client *wsClient, cmd models.Command) {
	switch cmd.Action {
	case models.ActionSendMessage:
		h.svc.SendMessage(client.sessionID, client.lane(laneChat), cmd.Message, cmd.Model)
	case models.ActionSummarize:
		h.svc.Summarize(client.sessionID, client.lane(laneChat), client, cmd.Content, cmd.Model)
	case models.ActionFixGrammar, models.ActionAIEdit, models.ActionGetPrediction:
		kind, _ := dialog.KindForAction(cmd.Action)
		h.svc.OneShot(client.sessionID, client.lane(laneEdit), kind, cmd.Prompt, cmd.Model)
	case models.ActionClearHistory:
		h.svc.ClearHistory(client.sessionID)
	case models.ActionPageContent:
		if !client.resolvePageContent(cmd.RequestID, cmd.Content) {
			log.Printf("没有等待页面内容的请求: request=%s", cmd.RequestID)
		}
	default:
		log.Printf("未知命令: %s", cmd.Action)
	}
}

// chanRecipient 把事件交给HTTP响应写出
type chanRecipient struct {
	id     string
	events chan models.StreamEvent
	done   <-chan struct{}
}

func (r *chanRecipient) ID() string { return r.id }

func (r *chanRecipient) Deliver(event models.StreamEvent) error {
	select {
	case r.events <- event:
		return nil
	case <-r.done:
		return errClientGone
	}
}

// HandleCommand 执行一条命令，流式命令以NDJSON事件返回，直到终止事件
func (h *AssistantHandler) HandleCommand(c *gin.Context) {
	sessionID := c.Param("id")

	var cmd models.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的命令: " + err.Error()})
		return
	}

	recipientID := c.GetHeader(RecipientHeader)
	if recipientID == "" {
		recipientID = "http/" + uuid.NewString()
	}
	rcpt := &chanRecipient{
		id:     recipientID,
		events: make(chan models.StreamEvent, 16),
		done:   c.Request.Context().Done(),
	}

	var handle *services.Handle
	switch cmd.Action {
	case models.ActionClearHistory:
		h.svc.ClearHistory(sessionID)
		c.Status(http.StatusNoContent)
		return
	case models.ActionSendMessage:
		handle = h.svc.SendMessage(sessionID, rcpt, cmd.Message, cmd.Model)
	case models.ActionSummarize:
		// HTTP调用方必须在 content 中提供页面文本
		handle = h.svc.Summarize(sessionID, rcpt, nil, cmd.Content, cmd.Model)
	case models.ActionFixGrammar, models.ActionAIEdit, models.ActionGetPrediction:
		kind, _ := dialog.KindForAction(cmd.Action)
		handle = h.svc.OneShot(sessionID, rcpt, kind, cmd.Prompt, cmd.Model)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知命令: " + cmd.Action})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case event := <-rcpt.events:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("序列化事件失败: %v", err)
				return false
			}
			w.Write(append(data, '\n'))
			return !event.Done
		case <-c.Request.Context().Done():
			handle.Cancel()
			return false
		}
	})
}

// HandleHistory 返回会话记录
func (h *AssistantHandler) HandleHistory(c *gin.Context) {
	sessionID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   h.svc.History(sessionID),
	})
}

// HandleClearHistory 清空会话记录
func (h *AssistantHandler) HandleClearHistory(c *gin.Context) {
	h.svc.ClearHistory(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// HandleModels 返回可用模型
func (h *AssistantHandler) HandleModels(c *gin.Context) {
	ids, err := h.svc.ListModels(c.Request.Context())
	if err != nil {
		log.Printf("获取模型列表失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "获取模型列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": ids})
}
