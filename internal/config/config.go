// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 应用程序配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Completion CompletionConfig `yaml:"completion"`
	Stream     StreamConfig     `yaml:"stream"`
	Session    SessionConfig    `yaml:"session"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host string `yaml:"host"` // 服务器监听地址
	Port int    `yaml:"port"` // 服务器监听端口
	Mode string `yaml:"mode"` // gin运行模式：debug/release/test
}

// CompletionConfig 聊天补全服务配置
type CompletionConfig struct {
	Host       string `yaml:"host"`        // 补全服务地址
	Path       string `yaml:"path"`        // 补全接口路径
	ModelsPath string `yaml:"models_path"` // 模型列表接口路径
	Model      string `yaml:"model"`       // 默认模型名称
	APIKey     string `yaml:"api_key"`     // API密钥，可为空
	APIKeyEnv  string `yaml:"api_key_env"` // api_key 为空时读取的环境变量
}

// StreamConfig 流式输出配置
type StreamConfig struct {
	FlushThreshold int `yaml:"flush_threshold"` // 片段超过该字符数即推送
}

// SessionConfig 会话配置
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"` // 空闲会话的保留时间
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize     int           `yaml:"read_buffer_size"`     // 读缓冲区大小
	WriteBufferSize    int           `yaml:"write_buffer_size"`    // 写缓冲区大小
	PingPeriod         time.Duration `yaml:"ping_period"`          // 心跳间隔
	PongWait           time.Duration `yaml:"pong_wait"`            // 等待Pong响应的超时时间
	PageContentTimeout time.Duration `yaml:"page_content_timeout"` // 等待页面文本的超时时间
}

// PromptsConfig 一次性请求的指令模板，{{content}} 替换为页面文本或选中文本
type PromptsConfig struct {
	Summarize       string `yaml:"summarize"`
	FixGrammar      string `yaml:"fix_grammar"`
	AIEdit          string `yaml:"ai_edit"`
	Predict         string `yaml:"predict"`
	MaxContentChars int    `yaml:"max_content_chars"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"` // 允许的来源，空则允许全部
}

// Load 从文件加载配置。同目录或工作目录下的 .env 会先被载入环境变量
func Load(filename string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析YAML配置，填充默认值并验证
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	setDefaults(&config)

	if config.Completion.APIKey == "" && config.Completion.APIKeyEnv != "" {
		config.Completion.APIKey = os.Getenv(config.Completion.APIKeyEnv)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// Addr 返回HTTP监听地址
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "release"
	}
	if config.Completion.Path == "" {
		config.Completion.Path = "/v1/chat/completions"
	}
	if config.Completion.ModelsPath == "" {
		config.Completion.ModelsPath = "/v1/models"
	}
	if config.Stream.FlushThreshold == 0 {
		config.Stream.FlushThreshold = 20
	}
	if config.Session.IdleTimeout == 0 {
		config.Session.IdleTimeout = 2 * time.Hour
	}
	if config.WebSocket.ReadBufferSize == 0 {
		config.WebSocket.ReadBufferSize = 1024
	}
	if config.WebSocket.WriteBufferSize == 0 {
		config.WebSocket.WriteBufferSize = 1024
	}
	if config.WebSocket.PingPeriod == 0 {
		config.WebSocket.PingPeriod = 30 * time.Second
	}
	if config.WebSocket.PongWait == 0 {
		config.WebSocket.PongWait = 60 * time.Second
	}
	if config.WebSocket.PageContentTimeout == 0 {
		config.WebSocket.PageContentTimeout = 10 * time.Second
	}
	if config.Prompts.MaxContentChars == 0 {
		config.Prompts.MaxContentChars = 12000
	}
}

// validateConfig 验证配置是否有效
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Port <= 0 {
		return ErrInvalidPort
	}

	// 验证补全服务配置
	if config.Completion.Host == "" {
		return ErrEmptyCompletionHost
	}
	if config.Completion.Model == "" {
		return ErrEmptyModel
	}

	if config.Stream.FlushThreshold < 0 {
		return ErrInvalidFlushThreshold
	}
	if config.Session.IdleTimeout < time.Minute {
		return ErrInvalidIdleTimeout
	}
	if config.WebSocket.PongWait <= config.WebSocket.PingPeriod {
		return ErrInvalidHeartbeat
	}
	if config.Prompts.MaxContentChars < 0 {
		return ErrInvalidMaxContent
	}
	return nil
}
