package config

import "errors"

// 配置相关错误
var (
	ErrInvalidPort           = errors.New("服务器端口必须大于0")
	ErrEmptyCompletionHost   = errors.New("补全服务地址不能为空")
	ErrEmptyModel            = errors.New("默认模型名称不能为空")
	ErrInvalidFlushThreshold = errors.New("flush_threshold 不能为负数")
	ErrInvalidIdleTimeout    = errors.New("idle_timeout 不能小于1分钟")
	ErrInvalidHeartbeat      = errors.New("pong_wait 必须大于 ping_period")
	ErrInvalidMaxContent     = errors.New("max_content_chars 不能为负数")
)
