// internal/services/satirist_service_test.go
package services

import (
	"context"
	"strings"
	"testing"

	apperrors "github.com/Sardonyx-Labs/NewsSatireStudio/internal/errors"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
)

func newTestArticles() []models.Article {
	return []models.Article{
		{
			Title:   "AI startup teaches robots to apologize convincingly",
			Content: "A long piece about remorseful machines.",
			Source:  "Example Times",
		},
	}
}

func TestGenerateScriptFromArticles(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		responses: []string{`{
			"script": [
				{"type": "opener", "text": "Robots can say sorry now. <audience_laugh>", "length_sec": 10},
				{"type": "segment", "text": "They trained on customer service transcripts, so the apologies mean nothing. <audience_laugh>", "length_sec": 20},
				{"type": "punchline", "text": "Just like ours. <audience_laugh>", "length_sec": 8}
			],
			"tone": "sarcastic"
		}`},
	}
	satirist := NewSatiristService(newTestLLMService(provider), newTestStyleConfig())

	script, err := satirist.GenerateScript(context.Background(), newTestArticles())
	if err != nil {
		t.Fatalf("生成脚本失败: %v", err)
	}

	if len(script.Sections) != 3 {
		t.Errorf("应生成3个段落，实际 %d", len(script.Sections))
	}
	if script.Tone != models.ToneSarcastic {
		t.Errorf("语气应为sarcastic，实际 %s", script.Tone)
	}
}

func TestGenerateScriptValidatesInput(t *testing.T) {
	satirist := NewSatiristService(newTestLLMService(&fakeProvider{name: "fake"}), newTestStyleConfig())

	cases := []struct {
		name     string
		articles []models.Article
	}{
		{"空素材列表", nil},
		{"缺少标题", []models.Article{{Content: "content"}}},
		{"缺少正文", []models.Article{{Title: "a reasonably long headline here"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := satirist.GenerateScript(context.Background(), tc.articles)
			if err == nil {
				t.Fatal("不合法的素材应返回错误")
			}
			if !apperrors.IsValidationError(err) {
				t.Errorf("应返回校验错误，实际: %v", err)
			}
		})
	}
}

func TestGenerateScriptLLMNotReady(t *testing.T) {
	satirist := NewSatiristService(NewEmptyLLMService(), newTestStyleConfig())

	_, err := satirist.GenerateScript(context.Background(), newTestArticles())
	if err == nil {
		t.Fatal("LLM未就绪应返回错误")
	}
	if !apperrors.IsGenerationError(err) {
		t.Errorf("应返回生成错误，实际: %v", err)
	}
}

func TestGenerateScriptEmptyResult(t *testing.T) {
	provider := &fakeProvider{name: "fake", responses: []string{`{"script": [], "tone": "sarcastic"}`}}
	satirist := NewSatiristService(newTestLLMService(provider), newTestStyleConfig())

	_, err := satirist.GenerateScript(context.Background(), newTestArticles())
	if err == nil {
		t.Fatal("空脚本应返回错误")
	}
	if !apperrors.IsGenerationError(err) {
		t.Errorf("应返回生成错误，实际: %v", err)
	}
}

func TestBuildSystemPromptReflectsStyleGuide(t *testing.T) {
	satirist := NewSatiristService(nil, newTestStyleConfig())

	prompt := satirist.buildSystemPrompt()

	for _, fragment := range []string{
		"suicide",
		"opener",
		"punchline",
		"120 seconds",
		"sarcastic",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("系统提示应包含 %q，实际:\n%s", fragment, prompt)
		}
	}
}

func TestBuildPromptIncludesArticlesAndExample(t *testing.T) {
	cfg := newTestStyleConfig()
	cfg.ScriptSettings.FormatExample = models.Script{
		Tone: models.ToneSarcastic,
		Sections: []models.Section{
			{Type: models.SectionOpener, Text: "example text", LengthSec: 10},
		},
	}
	satirist := NewSatiristService(nil, cfg)

	prompt := satirist.buildPrompt(newTestArticles())

	if !strings.Contains(prompt, "AI startup teaches robots") {
		t.Error("用户提示应包含新闻标题")
	}
	if !strings.Contains(prompt, "Example Times") {
		t.Error("用户提示应包含新闻来源")
	}
	if !strings.Contains(prompt, `"length_sec": 10`) {
		t.Error("用户提示应包含格式样例")
	}
}

func TestGeneratorForBindsArticles(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		responses: []string{`{
			"script": [{"type": "opener", "text": "hi <audience_laugh>", "length_sec": 10}],
			"tone": "sarcastic"
		}`},
	}
	satirist := NewSatiristService(newTestLLMService(provider), newTestStyleConfig())

	generate := satirist.GeneratorFor(newTestArticles())

	script, err := generate(context.Background())
	if err != nil {
		t.Fatalf("生成函数执行失败: %v", err)
	}
	if len(script.Sections) != 1 {
		t.Errorf("应生成1个段落，实际 %d", len(script.Sections))
	}
}
