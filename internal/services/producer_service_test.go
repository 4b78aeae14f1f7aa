// internal/services/producer_service_test.go
package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/validate"
)

// 测试用的风格指南配置
func newTestStyleConfig() *config.StyleConfig {
	return &config.StyleConfig{
		StyleGuide: config.StyleGuide{
			Voice:                "测试主持人",
			ToneOptions:          []string{"sarcastic", "serious", "absurd"},
			BannedTopics:         []string{"suicide", "school shooting"},
			RequiredElements:     []string{"opener", "punchline"},
			MaxJokeDensity:       0.3,
			JokeDensityTolerance: 0.2,
		},
		Templates: config.TemplateConfig{
			RequiredSections: []string{"opener", "segment", "punchline"},
		},
		ScriptSettings: config.ScriptSettings{
			Fallback: config.FallbackConfig{
				Tone: models.ToneSelfDeprecating,
				Script: []models.Section{
					{
						Type:      models.SectionOpener,
						Text:      "Our generator failed. {{ error_message }} <audience_laugh>",
						LengthSec: 10,
					},
					{
						Type:      models.SectionSegment,
						Text:      "We have nothing tonight and honestly that might be the healthiest choice this show ever made. <audience_laugh> <audience_laugh>",
						LengthSec: 20,
					},
					{
						Type:      models.SectionPunchline,
						Text:      "The machines win this round. <audience_laugh>",
						LengthSec: 8,
					},
				},
				Metadata: config.FallbackMetadata{
					ErrorContextTemplate: "Error occurred: {error_message}",
					FallbackType:         "self_aware_meta",
				},
			},
			Validation: config.ValidationSettings{
				RetryAttempts:    3,
				RetryMaxWait:     60,
				RetryMultiplier:  1,
				MaxLengthMinutes: 2,
				SectionLengthLimits: map[string]config.LengthRange{
					models.SectionOpener:    {Min: 5, Max: 30},
					models.SectionTechnical: {Min: 10, Max: 60},
					models.SectionSegment:   {Min: 15, Max: 60},
					models.SectionPunchline: {Min: 5, Max: 30},
					models.SectionCallback:  {Min: 5, Max: 30},
				},
			},
		},
	}
}

// 能通过全部校验规则的脚本
func newValidScript() *models.Script {
	return &models.Script{
		Tone: models.ToneSarcastic,
		Sections: []models.Section{
			{
				Type:      models.SectionOpener,
				Text:      "Tonight the news got weird again. <audience_laugh>",
				LengthSec: 10,
			},
			{
				Type:      models.SectionSegment,
				Text:      "A startup promised to disrupt sleep itself, and the market rewarded them instantly for it. <audience_laugh> <audience_laugh>",
				LengthSec: 20,
			},
			{
				Type:      models.SectionPunchline,
				Text:      "Sleep tight, shareholders. <audience_laugh>",
				LengthSec: 8,
			},
		},
	}
}

// newTestProducer 创建重试等待被替换为计数器的服务
func newTestProducer(t *testing.T) (*ProducerService, *[]time.Duration) {
	t.Helper()

	producer, err := NewProducerService(newTestStyleConfig())
	if err != nil {
		t.Fatalf("创建生成流程服务失败: %v", err)
	}

	waits := &[]time.Duration{}
	producer.waitFn = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}

	return producer, waits
}

func TestProduceSucceedsFirstAttempt(t *testing.T) {
	producer, waits := newTestProducer(t)

	calls := 0
	result, err := producer.Produce(context.Background(), func(ctx context.Context) (*models.Script, error) {
		calls++
		return newValidScript(), nil
	})
	if err != nil {
		t.Fatalf("首次成功的生成不应返回错误: %v", err)
	}

	if calls != 1 {
		t.Errorf("生成函数应只被调用1次，实际 %d 次", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts 应为1，实际 %d", result.Attempts)
	}
	if result.IsFallback {
		t.Error("首次成功不应标记为兜底")
	}
	if len(*waits) != 0 {
		t.Errorf("成功路径不应有退避等待，实际等待 %d 次", len(*waits))
	}
}

func TestProduceRetriesThenSucceeds(t *testing.T) {
	producer, waits := newTestProducer(t)

	calls := 0
	result, err := producer.Produce(context.Background(), func(ctx context.Context) (*models.Script, error) {
		calls++
		if calls == 1 {
			return nil, apperrors.NewGenerationError("provider unavailable", nil)
		}
		return newValidScript(), nil
	})
	if err != nil {
		t.Fatalf("第二次成功的生成不应返回错误: %v", err)
	}

	if calls != 2 {
		t.Errorf("生成函数应被调用2次，实际 %d 次", calls)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts 应为2，实际 %d", result.Attempts)
	}
	if result.IsFallback {
		t.Error("重试后成功不应标记为兜底")
	}

	// multiplier=1 时第一次失败后等待 1*2^0 = 1秒
	if len(*waits) != 1 {
		t.Fatalf("应只有1次退避等待，实际 %d 次", len(*waits))
	}
	if (*waits)[0] != time.Second {
		t.Errorf("首次退避应为1秒，实际 %v", (*waits)[0])
	}
}

func TestProduceNonRetryableFailsFastToFallback(t *testing.T) {
	producer, waits := newTestProducer(t)

	calls := 0
	result, err := producer.Produce(context.Background(), func(ctx context.Context) (*models.Script, error) {
		calls++
		return nil, apperrors.NewConfigError("style guide missing", nil)
	})
	if err != nil {
		t.Fatalf("不可重试的失败应落到兜底而不是报错: %v", err)
	}

	// 配置缺陷重试也不会变好，第一次失败后直接兜底
	if calls != 1 {
		t.Errorf("生成函数应只被调用1次，实际 %d 次", calls)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts 应为1，实际 %d", result.Attempts)
	}
	if !result.IsFallback {
		t.Fatal("不可重试的失败应标记为兜底")
	}
	if len(*waits) != 0 {
		t.Errorf("不应有退避等待，实际 %d 次", len(*waits))
	}
	if !strings.Contains(result.Script.Sections[0].Text, "Error occurred: style guide missing") {
		t.Errorf("兜底脚本应包含渲染后的错误上下文，实际文本: %q", result.Script.Sections[0].Text)
	}
}

func TestProduceExhaustsAndFallsBack(t *testing.T) {
	producer, waits := newTestProducer(t)

	calls := 0
	result, err := producer.Produce(context.Background(), func(ctx context.Context) (*models.Script, error) {
		calls++
		return nil, apperrors.NewGenerationError("timeout", nil)
	})
	if err != nil {
		t.Fatalf("重试耗尽应返回兜底脚本而不是错误: %v", err)
	}

	if calls != 3 {
		t.Errorf("生成函数应被调用 retry_attempts=3 次，实际 %d 次", calls)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts 应为3，实际 %d", result.Attempts)
	}
	if !result.IsFallback {
		t.Fatal("重试耗尽应标记为兜底")
	}
	if result.LastFailure == "" {
		t.Error("兜底结果应记录最后一次失败原因")
	}

	// 最后一次失败后不再等待：3次尝试只有2次退避
	if len(*waits) != 2 {
		t.Fatalf("应有2次退避等待，实际 %d 次", len(*waits))
	}
	if (*waits)[0] != time.Second || (*waits)[1] != 2*time.Second {
		t.Errorf("退避序列应为 [1s 2s]，实际 %v", *waits)
	}

	// 占位符应被渲染后的错误上下文替换
	opener := result.Script.Sections[0].Text
	if !strings.Contains(opener, "Error occurred: timeout") {
		t.Errorf("兜底脚本应包含渲染后的错误上下文，实际文本: %q", opener)
	}
	if strings.Contains(opener, "{{ error_message }}") {
		t.Error("兜底脚本中不应残留占位符")
	}

	if isFallback, _ := result.Script.Metadata["is_fallback"].(bool); !isFallback {
		t.Error("兜底脚本的 metadata 应标记 is_fallback")
	}
}

func TestProduceInvalidScriptTriggersRetry(t *testing.T) {
	producer, _ := newTestProducer(t)

	// 密度为0的脚本会触发 density_out_of_tolerance
	flat := newValidScript()
	for i := range flat.Sections {
		flat.Sections[i].Text = strings.ReplaceAll(flat.Sections[i].Text, "<audience_laugh>", "")
	}

	result, err := producer.Produce(context.Background(), func(ctx context.Context) (*models.Script, error) {
		return flat, nil
	})
	if err != nil {
		t.Fatalf("校验失败应被吸收: %v", err)
	}

	if !result.IsFallback {
		t.Fatal("持续校验失败应落到兜底脚本")
	}
	if !strings.Contains(result.LastFailure, string(validate.KindDensityOutOfTolerance)) {
		t.Errorf("最后失败原因应为密度超界，实际: %s", result.LastFailure)
	}
}

func TestProduceContextCancelled(t *testing.T) {
	producer, err := NewProducerService(newTestStyleConfig())
	if err != nil {
		t.Fatalf("创建生成流程服务失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := producer.Produce(ctx, func(ctx context.Context) (*models.Script, error) {
		return nil, apperrors.NewGenerationError("timeout", nil)
	})
	if err == nil {
		t.Fatal("上下文取消应以错误形式返回")
	}
	if result != nil {
		t.Error("上下文取消时不应返回结果")
	}
}

func TestNewProducerServiceRejectsBadRetryParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.StyleConfig)
	}{
		{"零重试次数", func(c *config.StyleConfig) { c.ScriptSettings.Validation.RetryAttempts = 0 }},
		{"负等待上限", func(c *config.StyleConfig) { c.ScriptSettings.Validation.RetryMaxWait = -1 }},
		{"零退避倍数", func(c *config.StyleConfig) { c.ScriptSettings.Validation.RetryMultiplier = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestStyleConfig()
			tc.mutate(cfg)

			_, err := NewProducerService(cfg)
			if err == nil {
				t.Fatal("非法重试参数应在构造时报错")
			}
			if !apperrors.IsConfigError(err) {
				t.Errorf("应返回配置错误，实际: %v", err)
			}
		})
	}
}

func TestNewProducerServiceRejectsBrokenFallback(t *testing.T) {
	cfg := newTestStyleConfig()

	// 去掉punchline段落后兜底脚本缺少必备段落
	cfg.ScriptSettings.Fallback.Script = cfg.ScriptSettings.Fallback.Script[:2]

	_, err := NewProducerService(cfg)
	if err == nil {
		t.Fatal("无法通过校验的兜底脚本应在构造时报错")
	}
	if !apperrors.IsConfigError(err) {
		t.Errorf("应返回配置错误，实际: %v", err)
	}
}

func TestBackoffRespectsMaxWait(t *testing.T) {
	cfg := newTestStyleConfig()
	cfg.ScriptSettings.Validation.RetryMaxWait = 2

	producer, err := NewProducerService(cfg)
	if err != nil {
		t.Fatalf("创建生成流程服务失败: %v", err)
	}

	// 1*2^2 = 4秒，应被截断到2秒
	if got := producer.backoff(3); got != 2*time.Second {
		t.Errorf("退避应被截断到 retry_max_wait=2秒，实际 %v", got)
	}
}

func TestNextState(t *testing.T) {
	if nextState(1, 3) != stateAttempting {
		t.Error("未达到重试上限时应继续尝试")
	}
	if nextState(3, 3) != stateExhausted {
		t.Error("达到重试上限时应耗尽")
	}
	if nextState(4, 3) != stateExhausted {
		t.Error("超过重试上限时应耗尽")
	}
}

func TestRenderFallbackPlaceholderVariants(t *testing.T) {
	cfg := newTestStyleConfig()
	cfg.ScriptSettings.Fallback.Script[0].Text = "Style one: {{ error_message }} <audience_laugh>"
	cfg.ScriptSettings.Fallback.Script[1].Text = "Style two: {error_message} and some filler words to keep density inside the window here. <audience_laugh> <audience_laugh>"

	producer, err := NewProducerService(cfg)
	if err != nil {
		t.Fatalf("创建生成流程服务失败: %v", err)
	}

	script := producer.renderFallback(apperrors.NewGenerationError("boom", nil))

	for i, sec := range script.Sections[:2] {
		if !strings.Contains(sec.Text, "Error occurred: boom") {
			t.Errorf("段落 %d 应包含渲染后的错误上下文，实际: %q", i, sec.Text)
		}
	}

	// 配置里的模板本身不能被修改
	if !strings.Contains(cfg.ScriptSettings.Fallback.Script[0].Text, "{{ error_message }}") {
		t.Error("渲染不应修改配置中的兜底模板")
	}
}
