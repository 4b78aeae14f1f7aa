// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/llm"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/services"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	ScriptService   *services.ScriptService   // 脚本流水线服务
	ScoutService    *services.ScoutService    // 新闻侦察服务
	ProgressService *services.ProgressService // 进度跟踪服务
	ConfigService   *services.ConfigService   // 配置服务
	StatsService    *services.StatsService    // 统计服务
	LLMService      *services.LLMService      // LLM服务
	Response        *ResponseHelper           // 响应助手
}

// GenerateScriptRequest 脚本生成请求结构
type GenerateScriptRequest struct {
	Topic    string           `json:"topic"`              // 生成主题，为空时必须提供素材
	Articles []models.Article `json:"articles,omitempty"` // 直接提供的新闻素材
	Limit    int              `json:"limit,omitempty"`    // 从NewsAPI抓取的条数上限
	Async    bool             `json:"async,omitempty"`    // 异步执行，通过WebSocket跟踪进度
}

// UpdateLLMConfigRequest 更新LLM配置的请求结构
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider"` // 提供商名称：anthropic, openai, google
	Config   map[string]string `json:"config"`   // 提供商配置（api_key, default_model等）
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta 分页元数据
type PaginationMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginatedResponse 带分页的响应
type PaginatedResponse struct {
	*APIResponse
	Meta *PaginationMeta `json:"meta,omitempty"`
}

// ========================================
// 脚本生成处理器
// ========================================

// GenerateScript 触发一次脚本生成
// 同步模式阻塞直到生成完成；异步模式立即返回run_id
func (h *Handler) GenerateScript(c *gin.Context) {
	var req GenerateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	genReq := services.GenerateRequest{
		Topic:    req.Topic,
		Articles: req.Articles,
		Limit:    req.Limit,
	}

	if req.Async {
		runID, err := h.ScriptService.GenerateScriptAsync(genReq)
		if err != nil {
			h.respondScriptError(c, err)
			return
		}

		h.Response.Accepted(c, gin.H{
			"run_id":       runID,
			"progress_url": "/ws/runs/" + runID,
		}, "生成任务已启动")
		return
	}

	// 同步生成可能经历多轮重试，放宽超时
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	record, err := h.ScriptService.GenerateScript(ctx, genReq)
	if err != nil {
		h.respondScriptError(c, err)
		return
	}

	h.Response.Created(c, record, "脚本生成完成")
}

// respondScriptError 根据错误类型映射HTTP状态
func (h *Handler) respondScriptError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidationError(err):
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidGenRequest, err.Error())
	case apperrors.IsNotFoundError(err):
		h.Response.Error(c, http.StatusNotFound, ErrorNoUsableHeadlines, err.Error())
	case apperrors.IsConfigError(err):
		h.Response.ServiceUnavailable(c, ErrorLLMConfigInvalid, err.Error())
	default:
		h.Response.Error(c, http.StatusInternalServerError, ErrorScriptGenFailed, "脚本生成失败", err.Error())
	}
}

// GetScript 获取单个存档脚本
func (h *Handler) GetScript(c *gin.Context) {
	scriptID := c.Param("id")
	if scriptID == "" {
		h.Response.BadRequest(c, "缺少脚本ID")
		return
	}

	record, err := h.ScriptService.GetScript(scriptID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "脚本", err.Error())
			return
		}
		h.Response.InternalError(c, "读取脚本失败", err.Error())
		return
	}

	h.Response.Success(c, record)
}

// ListScripts 列出存档脚本（按创建时间倒序，支持分页）
func (h *Handler) ListScripts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	records, err := h.ScriptService.ListScripts()
	if err != nil {
		h.Response.InternalError(c, "读取脚本列表失败", err.Error())
		return
	}

	total := len(records)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	h.Response.PaginatedSuccess(c, records[start:end], &PaginationMeta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// DeleteScript 删除存档脚本
func (h *Handler) DeleteScript(c *gin.Context) {
	scriptID := c.Param("id")
	if scriptID == "" {
		h.Response.BadRequest(c, "缺少脚本ID")
		return
	}

	if err := h.ScriptService.DeleteScript(scriptID); err != nil {
		if apperrors.IsNotFoundError(err) {
			h.Response.NotFound(c, "脚本", err.Error())
			return
		}
		h.Response.InternalError(c, "删除脚本失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "脚本已删除")
}

// GetRunProgress 查询生成任务的当前进度（轮询接口，WebSocket的降级方案）
func (h *Handler) GetRunProgress(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		h.Response.BadRequest(c, "缺少任务ID")
		return
	}

	tracker, exists := h.ProgressService.GetTracker(runID)
	if !exists {
		h.Response.NotFound(c, "生成任务")
		return
	}

	update, startTime, updateTime := tracker.Snapshot()

	h.Response.Success(c, gin.H{
		"run_id":      tracker.RunID,
		"progress":    update.Progress,
		"attempt":     update.Attempt,
		"message":     update.Message,
		"status":      update.Status,
		"start_time":  startTime,
		"update_time": updateTime,
	})
}

// ========================================
// 新闻侦察处理器
// ========================================

// GetHeadlines 抓取并过滤候选新闻头条
func (h *Handler) GetHeadlines(c *gin.Context) {
	query := strings.TrimSpace(c.DefaultQuery("q", ""))
	if query == "" {
		h.Response.BadRequest(c, "缺少查询关键词", "请通过q参数指定查询关键词")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	articles, err := h.ScoutService.FetchHeadlines(ctx, query, limit)
	if err != nil {
		if apperrors.IsConfigError(err) {
			h.Response.ServiceUnavailable(c, ErrorNewsAPIKeyMissing, err.Error())
			return
		}
		h.Response.Error(c, http.StatusBadGateway, ErrorHeadlineFetchFailed, "头条抓取失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"query":                query,
		"articles":             articles,
		"count":                len(articles),
		"rate_limit_remaining": h.ScoutService.RateLimitRemaining(),
	})
}

// ========================================
// 配置与LLM管理处理器
// ========================================

// GetSettings 获取当前应用配置（密钥脱敏）
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := h.ConfigService.GetCurrentConfig()

	llmConfig := make(map[string]string, len(cfg.LLMConfig))
	for key, value := range cfg.LLMConfig {
		if strings.Contains(strings.ToLower(key), "key") {
			llmConfig[key] = maskSecret(value)
		} else {
			llmConfig[key] = value
		}
	}

	h.Response.Success(c, gin.H{
		"port":             cfg.Port,
		"debug_mode":       cfg.DebugMode,
		"llm_provider":     cfg.LLMProvider,
		"llm_config":       llmConfig,
		"news_api_key":     maskSecret(cfg.NewsAPIKey),
		"style_guide_path": cfg.StyleGuidePath,
	})
}

// maskSecret 脱敏密钥，只保留末尾4位
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// UpdateLLMConfig 更新LLM提供商配置，成功后热切换提供商
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	if req.Provider == "" {
		h.Response.BadRequest(c, "缺少提供商名称")
		return
	}

	changedBy := c.GetHeader("X-User-ID")
	if changedBy == "" {
		changedBy = c.ClientIP()
	}

	if err := h.ConfigService.UpdateLLMConfig(req.Provider, req.Config, changedBy); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "更新LLM配置失败", err.Error())
		return
	}

	// 配置落盘后切换运行中的提供商
	if err := h.LLMService.UpdateProvider(req.Provider, h.ConfigService.GetLLMConfig()); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorConnectionFailed, "提供商初始化失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider":      h.LLMService.GetProviderName(),
		"default_model": h.LLMService.GetDefaultModel(),
	}, "LLM配置已更新")
}

// GetLLMStatus 获取LLM服务就绪状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()

	h.Response.Success(c, gin.H{
		"ready":         ready,
		"state":         state,
		"provider":      h.LLMService.GetProviderName(),
		"default_model": h.LLMService.GetDefaultModel(),
	})
}

// GetLLMModels 列出各提供商支持的模型
func (h *Handler) GetLLMModels(c *gin.Context) {
	providers := llm.ListProviders()

	modelsByProvider := make(map[string][]string, len(providers))
	for _, name := range providers {
		modelsByProvider[name] = llm.GetSupportedModelsForProvider(name)
	}

	h.Response.Success(c, gin.H{
		"providers": providers,
		"models":    modelsByProvider,
		"current":   h.LLMService.GetProviderName(),
	})
}

// ========================================
// 统计与监控处理器
// ========================================

// GetStats 获取运行统计
func (h *Handler) GetStats(c *gin.Context) {
	stats := h.StatsService.GetStats()
	h.Response.Success(c, stats)
}

// GetMetrics 获取内部指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	llmReady, llmState := h.LLMService.GetProviderStatus()

	status := "ok"
	if !llmReady {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"llm_ready": llmReady,
		"llm_state": llmState,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
