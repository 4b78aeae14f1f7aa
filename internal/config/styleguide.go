// internal/config/styleguide.go
package config

import (
	"fmt"
	"os"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"gopkg.in/yaml.v3"
)

// StyleGuide 风格指南：笑点密度、禁区话题和必备段落
type StyleGuide struct {
	Voice                string   `yaml:"voice"`
	ToneOptions          []string `yaml:"tone_options"`
	Structure            []string `yaml:"structure"`
	BannedTopics         []string `yaml:"banned_topics"`
	RequiredElements     []string `yaml:"required_elements"`
	MaxJokeDensity       float64  `yaml:"max_joke_density"`
	JokeDensityTolerance float64  `yaml:"joke_density_tolerance"`
}

// TemplateConfig 模板层面的结构要求
type TemplateConfig struct {
	RequiredSections []string `yaml:"required_sections"`
}

// LengthRange 段落时长的上下界（秒）
type LengthRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ValidationSettings 校验与重试参数
type ValidationSettings struct {
	RetryAttempts       int                    `yaml:"retry_attempts"`
	RetryMaxWait        int                    `yaml:"retry_max_wait"`
	RetryMultiplier     float64                `yaml:"retry_multiplier"`
	MaxLengthMinutes    int                    `yaml:"max_length_minutes"`
	SectionLengthLimits map[string]LengthRange `yaml:"section_length_limits"`
}

// FallbackMetadata 兜底脚本的附加说明
type FallbackMetadata struct {
	ErrorContextTemplate string          `yaml:"error_context_template"`
	FallbackType         string          `yaml:"fallback_type"`
	StyleElements        map[string]bool `yaml:"style_elements"`
}

// FallbackConfig 预先写好的兜底脚本模板
type FallbackConfig struct {
	Script   []models.Section `yaml:"script"`
	Tone     string           `yaml:"tone"`
	Metadata FallbackMetadata `yaml:"metadata"`
}

// ScriptSettings 脚本生成相关设置
type ScriptSettings struct {
	FormatExample models.Script      `yaml:"format_example"`
	Fallback      FallbackConfig     `yaml:"fallback"`
	Validation    ValidationSettings `yaml:"validation"`
}

// StyleConfig 整份风格指南文档
// 进程启动时加载一次，之后只读，可被多个生成流程并发共享
type StyleConfig struct {
	StyleGuide     StyleGuide     `yaml:"style_guide"`
	Templates      TemplateConfig `yaml:"templates"`
	ScriptSettings ScriptSettings `yaml:"script_settings"`
}

// LoadStyleConfig 从YAML文件加载风格指南
// 缺失必需键或格式损坏视为配置错误，启动期直接失败
func LoadStyleConfig(path string) (*StyleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("读取风格指南失败: %s", path), err)
	}

	var cfg StyleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.NewConfigError("解析风格指南YAML失败", err)
	}

	if err := cfg.checkShape(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkShape 验证文档的基本形状
// 这里只管配置键的完整性，脚本级规则放在validate包
func (c *StyleConfig) checkShape() error {
	if len(c.StyleGuide.BannedTopics) == 0 {
		return apperrors.NewConfigError("风格指南缺少 style_guide.banned_topics", nil)
	}
	if c.StyleGuide.MaxJokeDensity <= 0 {
		return apperrors.NewConfigError("风格指南缺少 style_guide.max_joke_density", nil)
	}
	if c.StyleGuide.JokeDensityTolerance < 0 {
		return apperrors.NewConfigError("joke_density_tolerance 不能为负", nil)
	}
	if len(c.RequiredSections()) == 0 {
		return apperrors.NewConfigError(
			"必备段落集合为空: required_elements 与 required_sections 都未配置", nil)
	}

	v := c.ScriptSettings.Validation
	if v.MaxLengthMinutes <= 0 {
		return apperrors.NewConfigError("script_settings.validation.max_length_minutes 必须为正", nil)
	}
	if len(v.SectionLengthLimits) == 0 {
		return apperrors.NewConfigError("script_settings.validation.section_length_limits 未配置", nil)
	}
	for sectionType, limits := range v.SectionLengthLimits {
		if !models.IsValidSectionType(sectionType) {
			return apperrors.NewConfigError(
				fmt.Sprintf("section_length_limits 中出现未知段落类型: %s", sectionType), nil)
		}
		if limits.Min < 0 || limits.Max < limits.Min {
			return apperrors.NewConfigError(
				fmt.Sprintf("段落 %s 的时长区间非法: [%d, %d]", sectionType, limits.Min, limits.Max), nil)
		}
	}

	if len(c.ScriptSettings.Fallback.Script) == 0 {
		return apperrors.NewConfigError("script_settings.fallback.script 未配置", nil)
	}
	if c.ScriptSettings.Fallback.Metadata.ErrorContextTemplate == "" {
		return apperrors.NewConfigError("fallback.metadata.error_context_template 未配置", nil)
	}

	return nil
}

// RequiredSections 返回必备段落类型集合
// 取 style_guide.required_elements 和 templates.required_sections 的并集
func (c *StyleConfig) RequiredSections() []string {
	seen := make(map[string]bool)
	var result []string

	for _, lists := range [][]string{c.StyleGuide.RequiredElements, c.Templates.RequiredSections} {
		for _, sectionType := range lists {
			if !seen[sectionType] {
				seen[sectionType] = true
				result = append(result, sectionType)
			}
		}
	}

	return result
}

// MaxTotalSeconds 返回脚本总时长上限（秒）
func (c *StyleConfig) MaxTotalSeconds() int {
	return c.ScriptSettings.Validation.MaxLengthMinutes * 60
}

// DensityBounds 返回可接受的笑点密度区间 [min, max]
func (c *StyleConfig) DensityBounds() (float64, float64) {
	center := c.StyleGuide.MaxJokeDensity
	tolerance := c.StyleGuide.JokeDensityTolerance

	lower := center - tolerance
	if lower < 0 {
		lower = 0
	}
	return lower, center + tolerance
}

// LengthLimit 返回段落类型的时长区间
// 未配置上下界的类型不做时长检查
func (c *StyleConfig) LengthLimit(sectionType string) (LengthRange, bool) {
	limits, ok := c.ScriptSettings.Validation.SectionLengthLimits[sectionType]
	return limits, ok
}

// FallbackScript 返回兜底脚本模板的深拷贝
func (c *StyleConfig) FallbackScript() *models.Script {
	template := &models.Script{
		Sections: c.ScriptSettings.Fallback.Script,
		Tone:     c.ScriptSettings.Fallback.Tone,
	}
	return template.Clone()
}
