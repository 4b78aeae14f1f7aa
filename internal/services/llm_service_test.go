// internal/services/llm_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/llm"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
)

// fakeProvider 测试用的LLM提供商
type fakeProvider struct {
	name      string
	responses []string
	err       error
	calls     int
}

func (p *fakeProvider) Initialize(config map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                           { return p.name }
func (p *fakeProvider) GetSupportedModels() []string              { return []string{"fake-model"} }

func (p *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	text := "{}"
	if len(p.responses) > 0 {
		text = p.responses[0]
		if len(p.responses) > 1 {
			p.responses = p.responses[1:]
		}
	}

	return &llm.CompletionResponse{
		Text:         text,
		FinishReason: "stop",
		TokensUsed:   42,
		ModelName:    req.Model,
		ProviderName: p.name,
	}, nil
}

// newTestLLMService 创建挂载假提供商的就绪服务
func newTestLLMService(provider *fakeProvider) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = provider.name
	service.activeDefaultModel = "fake-model"
	service.isReady = true
	service.readyState = "Ready"
	return service
}

func TestCreateStructuredCompletionParsesFencedJSON(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		responses: []string{
			"```json\n{\"script\": [{\"type\": \"opener\", \"text\": \"hi <audience_laugh>\", \"length_sec\": 10}], \"tone\": \"sarcastic\"}\n```",
		},
	}
	service := newTestLLMService(provider)

	var script models.Script
	if err := service.CreateStructuredCompletion(context.Background(), "prompt", "system", &script); err != nil {
		t.Fatalf("结构化补全失败: %v", err)
	}

	if len(script.Sections) != 1 {
		t.Fatalf("应解析出1个段落，实际 %d", len(script.Sections))
	}
	if script.Sections[0].Type != models.SectionOpener {
		t.Errorf("段落类型应为opener，实际 %s", script.Sections[0].Type)
	}
	if script.Tone != models.ToneSarcastic {
		t.Errorf("语气应为sarcastic，实际 %s", script.Tone)
	}
}

func TestCreateStructuredCompletionUsesCache(t *testing.T) {
	provider := &fakeProvider{
		name:      "fake",
		responses: []string{`{"script": [{"type": "opener", "text": "hi", "length_sec": 10}], "tone": "sarcastic"}`},
	}
	service := newTestLLMService(provider)

	var first models.Script
	if err := service.CreateStructuredCompletion(context.Background(), "same prompt", "system", &first); err != nil {
		t.Fatalf("首次结构化补全失败: %v", err)
	}

	var second models.Script
	if err := service.CreateStructuredCompletion(context.Background(), "same prompt", "system", &second); err != nil {
		t.Fatalf("第二次结构化补全失败: %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("相同请求应命中缓存，提供商被调用 %d 次", provider.calls)
	}
	if len(second.Sections) != 1 {
		t.Errorf("缓存结果应解析出1个段落，实际 %d", len(second.Sections))
	}
}

func TestCreateStructuredCompletionNotReady(t *testing.T) {
	service := NewEmptyLLMService()

	var script models.Script
	err := service.CreateStructuredCompletion(context.Background(), "prompt", "system", &script)
	if err == nil {
		t.Fatal("未就绪的服务应返回错误")
	}
	if !errors.Is(err, ErrLLMNotReady) {
		t.Errorf("应返回 ErrLLMNotReady，实际: %v", err)
	}
}

func TestCreateStructuredCompletionProviderError(t *testing.T) {
	provider := &fakeProvider{name: "fake", err: errors.New("provider exploded")}
	service := newTestLLMService(provider)

	var script models.Script
	err := service.CreateStructuredCompletion(context.Background(), "prompt", "system", &script)
	if err == nil {
		t.Fatal("提供商失败应透传错误")
	}
	if !strings.Contains(err.Error(), "provider exploded") {
		t.Errorf("错误信息应包含原始原因，实际: %v", err)
	}
}

func TestCreateCompletionCachesResponse(t *testing.T) {
	provider := &fakeProvider{name: "fake", responses: []string{"plain text reply"}}
	service := newTestLLMService(provider)

	req := llm.CompletionRequest{Prompt: "tell a joke"}

	first, err := service.CreateCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("首次补全失败: %v", err)
	}

	second, err := service.CreateCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("第二次补全失败: %v", err)
	}

	if provider.calls != 1 {
		t.Errorf("相同请求应命中缓存，提供商被调用 %d 次", provider.calls)
	}
	if first.Text != second.Text {
		t.Errorf("缓存响应应与原响应一致: %q vs %q", first.Text, second.Text)
	}
}

func TestGenerateCacheKeyDistinguishesInputs(t *testing.T) {
	service := newTestLLMService(&fakeProvider{name: "fake"})

	base := service.generateCacheKey("prompt", "system", "model")
	if base != service.generateCacheKey("prompt", "system", "model") {
		t.Error("相同输入应生成相同缓存键")
	}
	if base == service.generateCacheKey("other", "system", "model") {
		t.Error("不同prompt应生成不同缓存键")
	}
	if base == service.generateCacheKey("prompt", "other", "model") {
		t.Error("不同系统提示应生成不同缓存键")
	}
	if base == service.generateCacheKey("prompt", "system", "other") {
		t.Error("不同模型应生成不同缓存键")
	}
}

func TestCleanJSONString(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			"代码围栏",
			"```json\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"前后缀噪声",
			"Here is the result: {\"a\": 1} hope it helps",
			`{"a": 1}`,
		},
		{
			"已经干净",
			`{"a": 1}`,
			`{"a": 1}`,
		},
		{
			"数组输出",
			"```\n[1, 2, 3]\n```",
			`[1, 2, 3]`,
		},
		{
			"BOM与零宽字符",
			"\uFEFF{\"a\": \u200b1}\u2060",
			`{"a": 1}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := strings.TrimSpace(cleanJSONString(tc.input))
			if got != tc.want {
				t.Errorf("清理结果应为 %q，实际 %q", tc.want, got)
			}
		})
	}
}

func TestResolveModelFallsBackToProviderDefault(t *testing.T) {
	service := newTestLLMService(&fakeProvider{name: "anthropic"})
	service.activeDefaultModel = ""

	if got := service.resolveModel(""); got != "claude-3.5-sonnet" {
		t.Errorf("未指定模型时应使用提供商默认模型，实际 %s", got)
	}
	if got := service.resolveModel("custom-model"); got != "custom-model" {
		t.Errorf("显式指定的模型应原样保留，实际 %s", got)
	}
}
