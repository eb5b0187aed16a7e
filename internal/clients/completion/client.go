// Package completion 提供聊天补全服务的流式客户端
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"ai_page_assistant/internal/models"
	"ai_page_assistant/internal/stream"
)

// MaxFrameSize 单帧最大字节数
const MaxFrameSize = 1024 * 1024

// Config 补全客户端配置
type Config struct {
	Host       string // 补全服务地址（完整URL）
	Path       string // 补全接口路径
	ModelsPath string // 模型列表接口路径
	Model      string // 默认模型名称
	APIKey     string // 可选的API密钥
}

// Client 补全客户端，不做任何自动重试
type Client struct {
	config Config
	client *http.Client
}

// ChatRequest 补全请求参数
type ChatRequest struct {
	Model    string           `json:"model"`    // 模型名称
	Messages []models.Message `json:"messages"` // 对话消息
	Stream   bool             `json:"stream"`   // 是否流式输出
}

// TransportError 请求无法建立或在传输中断开
type TransportError struct {
	Op         string // 出错的阶段
	StatusCode int    // 服务端状态码，未收到响应时为0
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewClient 创建新的补全客户端
func NewClient(config Config) *Client {
	return NewClientWithHTTP(config, &http.Client{})
}

// NewClientWithHTTP 使用指定的 http.Client 创建补全客户端。
// 流式请求不设超时，请求的生命周期由 context 控制。
func NewClientWithHTTP(config Config, httpClient *http.Client) *Client {
	if config.Path == "" {
		config.Path = "/v1/chat/completions"
	}
	if config.ModelsPath == "" {
		config.ModelsPath = "/v1/models"
	}
	return &Client{
		config: config,
		client: httpClient,
	}
}

// Model 返回默认模型名称
func (c *Client) Model() string {
	return c.config.Model
}

// StreamChat 发起一次流式补全请求，返回按行读取的原始帧。
// model 为空时使用默认模型。调用方负责关闭返回的 FrameSource。
func (c *Client) StreamChat(ctx context.Context, model string, messages []models.Message) (stream.FrameSource, error) {
	if model == "" {
		model = c.config.Model
	}

	// 准备请求体
	reqBody := ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(c.config.Path), bytes.NewReader(jsonData))
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}

	// 检查响应状态码
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	return newLineSource(resp.Body), nil
}

// ListModels 返回补全服务可用的模型名称
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.config.ModelsPath), nil)
	if err != nil {
		return nil, &TransportError{Op: "models", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "models", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Op:         "models",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析模型列表失败: %w", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if id := strings.TrimSpace(m.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.Host, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// lineSource 按行读取响应体，超过 MaxFrameSize 的行被丢弃
type lineSource struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newLineSource(body io.ReadCloser) *lineSource {
	return &lineSource{body: body, reader: bufio.NewReaderSize(body, 64*1024)}
}

// Next 返回下一行，响应体正常结束时返回 io.EOF
func (s *lineSource) Next() (string, error) {
	var line []byte
	oversized := false
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", &TransportError{Op: "read", Err: err}
		}
		if !oversized {
			line = append(line, chunk...)
			if len(line) > MaxFrameSize {
				oversized = true
				line = nil
			}
		}
		if isPrefix {
			continue
		}
		if oversized {
			log.Printf("跳过超长的帧: 超过 %d 字节", MaxFrameSize)
			oversized = false
			continue
		}
		return string(line), nil
	}
}

func (s *lineSource) Close() error {
	return s.body.Close()
}
