package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai_page_assistant/internal/clients/completion"
	"ai_page_assistant/internal/config"
	"ai_page_assistant/internal/dialog"
	"ai_page_assistant/internal/handlers"
	"ai_page_assistant/internal/middleware"
	"ai_page_assistant/internal/routes"
	"ai_page_assistant/internal/services"

	"github.com/gin-gonic/gin"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	log.Println("页面助手服务启动中...")

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 创建补全客户端和助手服务
	client := completion.NewClient(completion.Config{
		Host:       cfg.Completion.Host,
		Path:       cfg.Completion.Path,
		ModelsPath: cfg.Completion.ModelsPath,
		Model:      cfg.Completion.Model,
		APIKey:     cfg.Completion.APIKey,
	})
	composer := dialog.NewComposer(dialog.Templates{
		Summarize:  cfg.Prompts.Summarize,
		FixGrammar: cfg.Prompts.FixGrammar,
		AIEdit:     cfg.Prompts.AIEdit,
		Predict:    cfg.Prompts.Predict,
	}, cfg.Prompts.MaxContentChars)
	svc := services.NewAssistantService(client, composer, services.Options{
		FlushThreshold:     cfg.Stream.FlushThreshold,
		PageContentTimeout: cfg.WebSocket.PageContentTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go expireSessions(ctx, svc, cfg.Session.IdleTimeout)

	// 注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	middleware.Setup(r, cfg.CORS.AllowedOrigins)
	routes.RegisterRoutes(r, handlers.NewAssistantHandler(svc, cfg.WebSocket, cfg.CORS.AllowedOrigins))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("监听地址: %s, 补全服务: %s, 模型: %s", cfg.Addr(), cfg.Completion.Host, cfg.Completion.Model)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP服务器错误: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭HTTP服务器失败: %v", err)
	}
}

// expireSessions 定期清理空闲会话
func expireSessions(ctx context.Context, svc *services.AssistantService, idle time.Duration) {
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.ExpireSessions(idle); n > 0 {
				log.Printf("清理空闲会话: %d", n)
			}
		}
	}
}
