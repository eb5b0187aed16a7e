package routes

import (
	"ai_page_assistant/internal/handlers"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, assistant *handlers.AssistantHandler) {
	r.GET("/", handlers.Index)
	r.GET("/health", handlers.Health)

	// 浮层WebSocket连接
	r.GET("/ws", assistant.HandleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/models", assistant.HandleModels)
		api.POST("/sessions/:id/commands", assistant.HandleCommand)
		api.GET("/sessions/:id/history", assistant.HandleHistory)
		api.DELETE("/sessions/:id/history", assistant.HandleClearHistory)
	}
}
