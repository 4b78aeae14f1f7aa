// internal/services/satirist_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
)

// SatiristService 根据新闻素材生成讽刺脚本
type SatiristService struct {
	llmService *LLMService
	cfg        *config.StyleConfig
	logger     *utils.Logger
}

// NewSatiristService 创建讽刺脚本生成服务
func NewSatiristService(llmService *LLMService, cfg *config.StyleConfig) *SatiristService {
	return &SatiristService{
		llmService: llmService,
		cfg:        cfg,
		logger:     utils.GetLogger(),
	}
}

// GenerateScript 根据新闻素材生成一份候选脚本
// 输入不合法返回校验错误，LLM侧失败统一包装为生成错误
func (s *SatiristService) GenerateScript(ctx context.Context, articles []models.Article) (*models.Script, error) {
	if len(articles) == 0 {
		return nil, apperrors.NewValidationError("新闻素材列表为空", nil)
	}
	for i, article := range articles {
		if strings.TrimSpace(article.Title) == "" {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("第%d条新闻缺少标题", i+1), nil)
		}
		if strings.TrimSpace(article.Content) == "" {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("第%d条新闻缺少正文", i+1), nil)
		}
	}

	if s.llmService == nil || !s.llmService.IsReady() {
		return nil, apperrors.NewGenerationError("LLM服务未就绪", nil)
	}

	prompt := s.buildPrompt(articles)

	var script models.Script
	if err := s.llmService.CreateStructuredCompletion(ctx, prompt, s.buildSystemPrompt(), &script); err != nil {
		return nil, apperrors.NewGenerationError("脚本生成失败", err)
	}

	if len(script.Sections) == 0 {
		return nil, apperrors.NewGenerationError("生成的脚本不包含任何段落", nil)
	}

	s.logger.Info("生成候选脚本", map[string]interface{}{
		"sections":  len(script.Sections),
		"tone":      script.Tone,
		"total_sec": script.TotalLengthSec(),
	})

	return &script, nil
}

// GeneratorFor 把一批素材绑定成ProducerService可调用的生成函数
func (s *SatiristService) GeneratorFor(articles []models.Article) GenerateFunc {
	return func(ctx context.Context) (*models.Script, error) {
		return s.GenerateScript(ctx, articles)
	}
}

// buildSystemPrompt 用风格指南构建系统提示
func (s *SatiristService) buildSystemPrompt() string {
	guide := s.cfg.StyleGuide

	var b strings.Builder
	b.WriteString("You are the head writer of a satirical news show.\n")
	if guide.Voice != "" {
		fmt.Fprintf(&b, "Voice: %s\n", guide.Voice)
	}
	if len(guide.ToneOptions) > 0 {
		fmt.Fprintf(&b, "Pick one tone from: %s\n", strings.Join(guide.ToneOptions, ", "))
	}
	if len(guide.Structure) > 0 {
		fmt.Fprintf(&b, "Follow this structure: %s\n", strings.Join(guide.Structure, " -> "))
	}
	if len(guide.BannedTopics) > 0 {
		fmt.Fprintf(&b, "Never mention: %s\n", strings.Join(guide.BannedTopics, ", "))
	}
	fmt.Fprintf(&b, "Every script must contain these section types: %s\n",
		strings.Join(s.cfg.RequiredSections(), ", "))
	fmt.Fprintf(&b, "Mark each joke inline with a marker like <audience_laugh>. "+
		"Keep roughly %.2f markers per word.\n", s.cfg.StyleGuide.MaxJokeDensity)
	fmt.Fprintf(&b, "Total length must stay under %d seconds.\n", s.cfg.MaxTotalSeconds())

	return b.String()
}

// buildPrompt 把新闻素材和输出格式样例拼成用户提示
func (s *SatiristService) buildPrompt(articles []models.Article) string {
	var b strings.Builder

	b.WriteString("Write a satirical news script based on these stories:\n\n")
	for i, article := range articles {
		fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, article.Title, article.Content)
		if article.Source != "" {
			fmt.Fprintf(&b, "(Source: %s)\n", article.Source)
		}
		b.WriteString("\n")
	}

	// 格式样例直接序列化自配置，保证和校验规则看到的结构一致
	if example, err := json.MarshalIndent(s.cfg.ScriptSettings.FormatExample, "", "  "); err == nil {
		b.WriteString("Return JSON exactly in this shape:\n")
		b.Write(example)
		b.WriteString("\n")
	}

	return b.String()
}
