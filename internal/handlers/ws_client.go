package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai_page_assistant/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 同一连接上的两条请求通道：聊天面板和选中文本工具栏互不取消
const (
	laneChat = "chat"
	laneEdit = "edit"
)

const writeWait = 10 * time.Second

// wsClient 一个浮层连接
type wsClient struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	writeMu   sync.Mutex

	mu      sync.Mutex
	pending map[string]chan string // 等待页面文本的请求
}

// newWSClient 创建连接，sessionID 为空时使用连接自身的标识
func newWSClient(conn *websocket.Conn, sessionID string) *wsClient {
	id := uuid.NewString()
	if sessionID == "" {
		sessionID = id
	}
	return &wsClient{
		id:        id,
		sessionID: sessionID,
		conn:      conn,
		pending:   make(map[string]chan string),
	}
}

// writeJSON 串行写入，gorilla/websocket 不支持并发写
func (c *wsClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// lane 返回连接上某条通道对应的消费者
func (c *wsClient) lane(name string) *laneRecipient {
	return &laneRecipient{client: c, name: name}
}

// PageText 向浮层索取页面文本并等待回复
func (c *wsClient) PageText(ctx context.Context, requestID string) (string, error) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(models.PageContentRequest{
		Action:    models.ActionGetPageContent,
		RequestID: requestID,
	}); err != nil {
		return "", fmt.Errorf("发送页面内容请求失败: %w", err)
	}

	select {
	case text := <-ch:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// resolvePageContent 把浮层回复的页面文本交给等待中的请求
func (c *wsClient) resolvePageContent(requestID, content string) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- content:
	default:
	}
	return true
}

// laneRecipient 把事件写回连接
type laneRecipient struct {
	client *wsClient
	name   string
}

func (r *laneRecipient) ID() string {
	return r.client.id + "/" + r.name
}

func (r *laneRecipient) Deliver(event models.StreamEvent) error {
	return r.client.writeJSON(event)
}
