// internal/validate/validate.go
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/config"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/models"
)

// Kind 校验失败的种类
type Kind string

const (
	KindLengthOutOfRange         Kind = "length_out_of_range"
	KindBannedTopicDetected      Kind = "banned_topic_detected"
	KindCallbackReferenceMissing Kind = "callback_reference_missing"
	KindMissingRequiredSection   Kind = "missing_required_section"
	KindScriptTooLong            Kind = "script_too_long"
	KindDensityOutOfTolerance    Kind = "density_out_of_tolerance"
	KindUnknownSectionType       Kind = "unknown_section_type"
	KindInvalidTone              Kind = "invalid_tone"
)

// Error 一次校验失败
// Section 为触发失败的段落下标，脚本级失败时为 -1
type Error struct {
	Kind        Kind
	Section     int
	SectionType string
	Message     string
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Section >= 0 {
		return fmt.Sprintf("%s (section %d, type %s): %s", e.Kind, e.Section, e.SectionType, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf 提取错误的校验失败种类，非校验错误返回空串
func KindOf(err error) Kind {
	if vErr, ok := err.(*Error); ok {
		return vErr.Kind
	}
	return ""
}

// 行内注释标记，如 <audience_laugh>、<skynet_reference>
var markerPattern = regexp.MustCompile(`<[a-z0-9_]+>`)

// Section 校验单个段落
// 纯函数：只依赖入参，按 时长 -> 禁区话题 的固定顺序失败
func Section(index int, sec models.Section, cfg *config.StyleConfig) error {
	if !models.IsValidSectionType(sec.Type) {
		return &Error{
			Kind:        KindUnknownSectionType,
			Section:     index,
			SectionType: sec.Type,
			Message:     fmt.Sprintf("未知段落类型 %q", sec.Type),
		}
	}

	if limits, ok := cfg.LengthLimit(sec.Type); ok {
		if sec.LengthSec < limits.Min || sec.LengthSec > limits.Max {
			return &Error{
				Kind:        KindLengthOutOfRange,
				Section:     index,
				SectionType: sec.Type,
				Message: fmt.Sprintf("时长 %d 秒超出区间 [%d, %d]",
					sec.LengthSec, limits.Min, limits.Max),
			}
		}
	}

	lowered := strings.ToLower(sec.Text)
	for _, topic := range cfg.StyleGuide.BannedTopics {
		if topic == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(topic)) {
			return &Error{
				Kind:        KindBannedTopicDetected,
				Section:     index,
				SectionType: sec.Type,
				Message:     fmt.Sprintf("出现禁区话题 %q", topic),
			}
		}
	}

	return nil
}

// Script 校验完整脚本
// 检查顺序固定：逐段落检查 -> callback引用 -> 必备段落覆盖 -> 总时长 -> 笑点密度 -> 语气
// 同一输入两次校验必然在同一条规则上失败
func Script(script *models.Script, cfg *config.StyleConfig) error {
	// 逐段落检查，按位置顺序快速失败
	for i, sec := range script.Sections {
		if err := Section(i, sec, cfg); err != nil {
			return err
		}
	}

	// callback 段落引用的类型必须在脚本中出现
	present := script.SectionTypeSet()
	for i, sec := range script.Sections {
		if sec.Type != models.SectionCallback {
			continue
		}
		for _, ref := range sec.References {
			if !present[ref] {
				return &Error{
					Kind:        KindCallbackReferenceMissing,
					Section:     i,
					SectionType: sec.Type,
					Message:     fmt.Sprintf("callback引用了不存在的段落类型 %q", ref),
				}
			}
		}
	}

	// 必备段落覆盖检查
	for _, required := range cfg.RequiredSections() {
		if !present[required] {
			return &Error{
				Kind:    KindMissingRequiredSection,
				Section: -1,
				Message: fmt.Sprintf("缺少必备段落 %q", required),
			}
		}
	}

	// 总时长上限
	total := script.TotalLengthSec()
	if maxSeconds := cfg.MaxTotalSeconds(); total > maxSeconds {
		return &Error{
			Kind:    KindScriptTooLong,
			Section: -1,
			Message: fmt.Sprintf("总时长 %d 秒超过上限 %d 秒", total, maxSeconds),
		}
	}

	// 笑点密度区间
	density := JokeDensity(script)
	lower, upper := cfg.DensityBounds()
	if density < lower || density > upper {
		return &Error{
			Kind:    KindDensityOutOfTolerance,
			Section: -1,
			Message: fmt.Sprintf("笑点密度 %.3f 超出区间 [%.3f, %.3f]", density, lower, upper),
		}
	}

	// 语气枚举
	if !models.IsValidTone(script.Tone) {
		return &Error{
			Kind:    KindInvalidTone,
			Section: -1,
			Message: fmt.Sprintf("非法语气 %q", script.Tone),
		}
	}

	return nil
}

// JokeDensity 计算脚本的笑点密度
// 公式：行内注释标记数量 / 全部段落的词数（标记本身不计入词数）
func JokeDensity(script *models.Script) float64 {
	markers := 0
	words := 0

	for _, sec := range script.Sections {
		text := sec.Text
		markers += len(markerPattern.FindAllString(text, -1))

		stripped := markerPattern.ReplaceAllString(text, " ")
		words += len(strings.Fields(stripped))
	}

	if words == 0 {
		return 0
	}
	return float64(markers) / float64(words)
}
