// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/di"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/services"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/storage"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"

	// 注册LLM提供商
	_ "github.com/Sardonyx-Labs/NewsSatireStudio/internal/llm/providers/anthropic"
	_ "github.com/Sardonyx-Labs/NewsSatireStudio/internal/llm/providers/google"
	_ "github.com/Sardonyx-Labs/NewsSatireStudio/internal/llm/providers/openai"
)

// HTTPServer 抽象HTTP服务器以便测试
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   HTTPServer
	stopChan chan os.Signal
}

var instance *App

// GetApp 获取应用单例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// SetRouter 设置HTTP路由
func (a *App) SetRouter(router http.Handler) {
	a.router = router
}

// SetConfig 设置应用配置
func (a *App) SetConfig(cfg *config.AppConfig) {
	a.config = cfg
}

// initLogger 初始化日志系统，日志文件按天命名
func initLogger(logDir string) error {
	logFile := filepath.Join(logDir, fmt.Sprintf("studio_%s.log", time.Now().Format("20060102")))
	return utils.InitLogger(logFile)
}

// InitLogger 对外暴露的日志初始化入口
func InitLogger(logDir string) error {
	return initLogger(logDir)
}

// InitServices 按依赖顺序初始化所有服务并注册到容器
// 配置缺陷（风格指南损坏、兜底脚本过不了校验、重试参数非法）在这里直接失败
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	// 1. 文件存储
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	// 2. 风格指南
	styleConfig, err := config.LoadStyleConfig(cfg.StyleGuidePath)
	if err != nil {
		return fmt.Errorf("加载风格指南失败: %w", err)
	}
	container.Register("style", styleConfig)

	// 3. LLM服务（未配置密钥时降级为未就绪，不阻塞启动）
	llmService, err := services.NewLLMService()
	if err != nil {
		utils.GetLogger().Warn("LLM服务未就绪", map[string]interface{}{
			"error": err.Error(),
		})
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 4. 进度、配置、统计
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	configService := services.NewConfigService()
	container.Register("config", configService)

	statsService := services.NewStatsService(filepath.Join(cfg.DataDir, "stats"))
	container.Register("stats", statsService)

	// 5. 新闻侦察
	scoutService := services.NewScoutService(cfg.NewsAPIKey, cfg.NewsBaseURL, llmService, fileStorage)
	container.Register("scout", scoutService)

	// 6. 脚本生成
	satiristService := services.NewSatiristService(llmService, styleConfig)
	container.Register("satirist", satiristService)

	producerService, err := services.NewProducerService(styleConfig)
	if err != nil {
		return fmt.Errorf("初始化生成流程服务失败: %w", err)
	}
	container.Register("producer", producerService)

	// 7. 流水线
	scriptService := services.NewScriptService(
		producerService,
		satiristService,
		scoutService,
		progressService,
		statsService,
		llmService,
		fileStorage,
	)
	container.Register("script", scriptService)

	return nil
}

// Run 启动HTTP服务器并阻塞直到收到退出信号
func (a *App) Run() error {
	if a.config == nil {
		return fmt.Errorf("应用配置未设置")
	}
	if a.router == nil {
		return fmt.Errorf("应用路由未设置")
	}

	if a.server == nil {
		a.server = &http.Server{
			Addr:    ":" + a.config.Port,
			Handler: a.router,
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-a.stopChan:
	}

	utils.GetLogger().Info("正在关闭服务器", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}

	// 统计服务带着未落盘的脏数据，关闭前刷一次
	if statsService, ok := di.GetContainer().Get("stats").(*services.StatsService); ok && statsService != nil {
		statsService.Close()
	}

	return nil
}

// Stop 触发优雅关闭
func (a *App) Stop() {
	select {
	case a.stopChan <- syscall.SIGTERM:
	default:
	}
}
