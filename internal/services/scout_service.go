// internal/services/scout_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/storage"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
)

const (
	scoutCacheDir    = "scout_cache"
	scoutCacheMaxAge = 7 * 24 * time.Hour
	scoutMaxRetries  = 3
)

// 头条里出现这些词直接丢弃，不值得浪费讽刺才华
var junkKeywords = []string{"bitcoin", "nft", "crypto"}

// ScoutService 从NewsAPI抓取头条并用LLM评估讽刺价值
type ScoutService struct {
	apiKey  string
	baseURL string
	client  *http.Client

	llmService *LLMService
	storage    *storage.FileStorage
	logger     *utils.Logger
	metrics    *utils.StudioMetrics

	// 最近一次响应的限流余量
	rateLimitMu        sync.Mutex
	rateLimitRemaining int
}

// NewScoutService 创建新闻侦察服务
func NewScoutService(apiKey, baseURL string, llmService *LLMService, fileStorage *storage.FileStorage) *ScoutService {
	if baseURL == "" {
		baseURL = "https://newsapi.org/v2"
	}

	return &ScoutService{
		apiKey:             apiKey,
		baseURL:            baseURL,
		client:             &http.Client{Timeout: 30 * time.Second},
		llmService:         llmService,
		storage:            fileStorage,
		logger:             utils.GetLogger(),
		metrics:            utils.NewStudioMetrics(),
		rateLimitRemaining: -1,
	}
}

// RateLimitRemaining 返回最近一次NewsAPI响应的剩余配额，未知时为-1
func (s *ScoutService) RateLimitRemaining() int {
	s.rateLimitMu.Lock()
	defer s.rateLimitMu.Unlock()
	return s.rateLimitRemaining
}

// FetchHeadlines 抓取指定主题的头条，过滤垃圾并附带讽刺价值评分
func (s *ScoutService) FetchHeadlines(ctx context.Context, query string, limit int) ([]models.Article, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, apperrors.NewConfigError("NewsAPI密钥未配置", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	raw, err := s.fetchFromAPI(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	articles := make([]models.Article, 0, len(raw))
	for _, article := range raw {
		if s.isJunk(article) {
			continue
		}
		s.attachScore(ctx, &article)
		articles = append(articles, article)
	}

	s.logger.Info("头条抓取完成", map[string]interface{}{
		"query":    query,
		"fetched":  len(raw),
		"accepted": len(articles),
	})

	return articles, nil
}

// fetchFromAPI 调用NewsAPI，瞬时错误简单重试
func (s *ScoutService) fetchFromAPI(ctx context.Context, query string, limit int) ([]models.Article, error) {
	endpoint := fmt.Sprintf("%s/everything?q=%s&pageSize=%d&sortBy=publishedAt&language=en",
		s.baseURL, url.QueryEscape(query), limit)

	var lastErr error
	for attempt := 1; attempt <= scoutMaxRetries; attempt++ {
		articles, retryable, err := s.doRequest(ctx, endpoint)
		if err == nil {
			return articles, nil
		}

		lastErr = err
		if !retryable || attempt == scoutMaxRetries {
			break
		}

		s.logger.Warn("NewsAPI请求失败，准备重试", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if waitErr := waitWithContext(ctx, time.Duration(attempt)*time.Second); waitErr != nil {
			return nil, waitErr
		}
	}

	s.metrics.RecordError("newsapi_request", "scout_service")
	return nil, apperrors.NewProcessingError("NewsAPI请求失败", lastErr)
}

func (s *ScoutService) doRequest(ctx context.Context, endpoint string) ([]models.Article, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	// 记录限流余量
	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if value, err := strconv.Atoi(remaining); err == nil {
			s.rateLimitMu.Lock()
			s.rateLimitRemaining = value
			s.rateLimitMu.Unlock()
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		// 429和5xx值得重试，4xx基本是配置问题
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("newsapi错误(%d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Status   string `json:"status"`
		Articles []struct {
			Title       string    `json:"title"`
			Description string    `json:"description"`
			Content     string    `json:"content"`
			URL         string    `json:"url"`
			PublishedAt time.Time `json:"publishedAt"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, false, fmt.Errorf("解析NewsAPI响应失败: %w", err)
	}

	articles := make([]models.Article, 0, len(response.Articles))
	for _, a := range response.Articles {
		content := a.Content
		if content == "" {
			content = a.Description
		}
		articles = append(articles, models.Article{
			Title:       a.Title,
			Content:     content,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}

	return articles, false, nil
}

// isJunk 过滤明显不适合做素材的头条
func (s *ScoutService) isJunk(article models.Article) bool {
	if len(article.Title) <= 20 {
		return true
	}
	if strings.TrimSpace(article.Content) == "" {
		return true
	}
	if !strings.HasPrefix(article.URL, "http") {
		return true
	}

	lowerTitle := strings.ToLower(article.Title)
	for _, keyword := range junkKeywords {
		if strings.Contains(lowerTitle, keyword) {
			return true
		}
	}

	return false
}

// attachScore 给头条附加讽刺价值评分，LLM不可用或失败时跳过
func (s *ScoutService) attachScore(ctx context.Context, article *models.Article) {
	score, err := s.scoreHeadline(ctx, article.Title, article.URL)
	if err != nil {
		s.logger.Debug("头条评分失败", map[string]interface{}{
			"title": article.Title,
			"error": err.Error(),
		})
		return
	}

	article.Novelty = score.Novelty
	article.Hype = score.Hype
	article.Absurdity = score.Absurdity
	article.ScoreNote = score.Reason
}

// scoreHeadline 让LLM给头条打分，结果按URL缓存7天
func (s *ScoutService) scoreHeadline(ctx context.Context, title, articleURL string) (*models.ArticleScore, error) {
	cacheFile := fmt.Sprintf("%x.json", md5.Sum([]byte(articleURL)))

	// 先查文件缓存
	if s.storage != nil && s.storage.FileExists(scoutCacheDir, cacheFile) {
		var cached models.ArticleScore
		if err := s.storage.LoadJSONFile(scoutCacheDir, cacheFile, &cached); err == nil {
			if !cached.Expired(scoutCacheMaxAge) {
				return &cached, nil
			}
		}
	}

	if s.llmService == nil || !s.llmService.IsReady() {
		return nil, ErrLLMNotReady
	}

	prompt := fmt.Sprintf(
		"Rate this headline for satirical potential on three 0-10 scales "+
			"(novelty, hype, absurdity) and add a one-line note:\n%s", title)

	var score models.ArticleScore
	if err := s.llmService.CreateStructuredCompletion(ctx, prompt, "", &score); err != nil {
		return nil, err
	}
	score.URL = articleURL
	score.Title = title
	score.CachedAt = time.Now()

	if s.storage != nil {
		if err := s.storage.SaveJSONFile(scoutCacheDir, cacheFile, &score); err != nil {
			s.logger.Warn("评分缓存写入失败", map[string]interface{}{"error": err.Error()})
		}
	}

	return &score, nil
}
