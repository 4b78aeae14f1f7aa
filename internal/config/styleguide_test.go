// internal/config/styleguide_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
)

const minimalStyleGuideYAML = `
style_guide:
  banned_topics:
    - suicide
  required_elements:
    - opener
    - punchline
  max_joke_density: 0.3
  joke_density_tolerance: 0.2

templates:
  required_sections:
    - opener
    - segment
    - punchline

script_settings:
  fallback:
    tone: self-deprecating
    script:
      - type: opener
        text: "Something broke. {{ error_message }} <audience_laugh>"
        length_sec: 10
    metadata:
      error_context_template: "Error occurred: {error_message}"
  validation:
    retry_attempts: 3
    retry_max_wait: 60
    retry_multiplier: 1
    max_length_minutes: 2
    section_length_limits:
      opener:
        min: 5
        max: 30
`

// writeStyleGuide 将YAML内容写入临时文件并返回路径
func writeStyleGuide(t *testing.T, content string) string {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "styleguide_test_*")
	if err != nil {
		t.Fatalf("创建临时测试目录失败: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	path := filepath.Join(tempDir, "styleguide.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试风格指南失败: %v", err)
	}
	return path
}

func TestLoadStyleConfig(t *testing.T) {
	path := writeStyleGuide(t, minimalStyleGuideYAML)

	cfg, err := LoadStyleConfig(path)
	if err != nil {
		t.Fatalf("加载风格指南失败: %v", err)
	}

	if cfg.StyleGuide.MaxJokeDensity != 0.3 {
		t.Errorf("max_joke_density 应为0.3，实际 %v", cfg.StyleGuide.MaxJokeDensity)
	}
	if len(cfg.ScriptSettings.Fallback.Script) != 1 {
		t.Errorf("兜底脚本应有1个段落，实际 %d", len(cfg.ScriptSettings.Fallback.Script))
	}
	if cfg.ScriptSettings.Fallback.Script[0].LengthSec != 10 {
		t.Errorf("length_sec 应为10，实际 %d", cfg.ScriptSettings.Fallback.Script[0].LengthSec)
	}
}

func TestLoadStyleConfigMissingFile(t *testing.T) {
	_, err := LoadStyleConfig(filepath.Join(os.TempDir(), "no_such_styleguide.yaml"))
	if err == nil {
		t.Fatal("不存在的文件应返回错误")
	}
	if !apperrors.IsConfigError(err) {
		t.Errorf("应返回配置错误，实际: %v", err)
	}
}

func TestLoadStyleConfigBrokenYAML(t *testing.T) {
	path := writeStyleGuide(t, "style_guide: [unclosed")

	_, err := LoadStyleConfig(path)
	if err == nil {
		t.Fatal("损坏的YAML应返回错误")
	}
	if !apperrors.IsConfigError(err) {
		t.Errorf("应返回配置错误，实际: %v", err)
	}
}

func TestLoadStyleConfigShapeErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*StyleConfig)
	}{
		{"缺少禁区话题", func(c *StyleConfig) { c.StyleGuide.BannedTopics = nil }},
		{"缺少密度上限", func(c *StyleConfig) { c.StyleGuide.MaxJokeDensity = 0 }},
		{"负容差", func(c *StyleConfig) { c.StyleGuide.JokeDensityTolerance = -0.1 }},
		{"必备段落为空", func(c *StyleConfig) {
			c.StyleGuide.RequiredElements = nil
			c.Templates.RequiredSections = nil
		}},
		{"缺少总时长上限", func(c *StyleConfig) { c.ScriptSettings.Validation.MaxLengthMinutes = 0 }},
		{"缺少段落时长配置", func(c *StyleConfig) { c.ScriptSettings.Validation.SectionLengthLimits = nil }},
		{"未知段落类型的时长配置", func(c *StyleConfig) {
			c.ScriptSettings.Validation.SectionLengthLimits["monologue"] = LengthRange{Min: 1, Max: 2}
		}},
		{"时长区间倒置", func(c *StyleConfig) {
			c.ScriptSettings.Validation.SectionLengthLimits["opener"] = LengthRange{Min: 30, Max: 5}
		}},
		{"缺少兜底脚本", func(c *StyleConfig) { c.ScriptSettings.Fallback.Script = nil }},
		{"缺少错误上下文模板", func(c *StyleConfig) {
			c.ScriptSettings.Fallback.Metadata.ErrorContextTemplate = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeStyleGuide(t, minimalStyleGuideYAML)
			cfg, err := LoadStyleConfig(path)
			if err != nil {
				t.Fatalf("基准配置应能加载: %v", err)
			}

			tc.mutate(cfg)
			if err := cfg.checkShape(); err == nil {
				t.Fatal("缺陷配置应校验失败")
			}
		})
	}
}

func TestRequiredSectionsUnion(t *testing.T) {
	cfg := &StyleConfig{
		StyleGuide: StyleGuide{RequiredElements: []string{"opener", "punchline"}},
		Templates:  TemplateConfig{RequiredSections: []string{"opener", "segment"}},
	}

	got := cfg.RequiredSections()
	want := []string{"opener", "punchline", "segment"}

	if len(got) != len(want) {
		t.Fatalf("必备段落并集应有 %d 项，实际 %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("并集第 %d 项应为 %s，实际 %s", i, want[i], got[i])
		}
	}
}

func TestDensityBoundsClampedAtZero(t *testing.T) {
	cfg := &StyleConfig{
		StyleGuide: StyleGuide{MaxJokeDensity: 0.1, JokeDensityTolerance: 0.3},
	}

	lower, upper := cfg.DensityBounds()
	if lower != 0 {
		t.Errorf("下界应被截断到0，实际 %v", lower)
	}
	if upper != 0.4 {
		t.Errorf("上界应为0.4，实际 %v", upper)
	}
}

func TestMaxTotalSeconds(t *testing.T) {
	cfg := &StyleConfig{}
	cfg.ScriptSettings.Validation.MaxLengthMinutes = 2

	if got := cfg.MaxTotalSeconds(); got != 120 {
		t.Errorf("总时长上限应为120秒，实际 %d", got)
	}
}

func TestFallbackScriptReturnsDeepCopy(t *testing.T) {
	cfg := &StyleConfig{}
	cfg.ScriptSettings.Fallback.Tone = models.ToneSelfDeprecating
	cfg.ScriptSettings.Fallback.Script = []models.Section{
		{Type: models.SectionOpener, Text: "original {{ error_message }}", LengthSec: 10},
	}

	copy1 := cfg.FallbackScript()
	copy1.Sections[0].Text = "mutated"

	if cfg.ScriptSettings.Fallback.Script[0].Text != "original {{ error_message }}" {
		t.Error("修改拷贝不应影响配置中的模板")
	}

	copy2 := cfg.FallbackScript()
	if copy2.Sections[0].Text != "original {{ error_message }}" {
		t.Errorf("第二份拷贝应保持原始文本，实际: %q", copy2.Sections[0].Text)
	}
}

// 校验随仓库发布的风格指南本身是一份合法配置
func TestShippedStyleGuideLoads(t *testing.T) {
	path := filepath.Join("..", "..", "configs", "styleguide.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skip("仓库内的风格指南不存在")
	}

	cfg, err := LoadStyleConfig(path)
	if err != nil {
		t.Fatalf("仓库内的风格指南应能加载: %v", err)
	}

	required := cfg.RequiredSections()
	if len(required) == 0 {
		t.Fatal("必备段落集合不应为空")
	}
	if cfg.ScriptSettings.Validation.RetryAttempts <= 0 {
		t.Error("retry_attempts 应为正数")
	}
}
