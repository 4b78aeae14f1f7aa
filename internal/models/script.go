// internal/models/script.go
package models

import (
	"time"
)

// 段落类型枚举
const (
	SectionOpener    = "opener"
	SectionTechnical = "technical_explanation"
	SectionSegment   = "segment"
	SectionPunchline = "punchline"
	SectionCallback  = "callback"
)

// 语气枚举
const (
	ToneSarcastic       = "sarcastic"
	ToneSerious         = "serious"
	ToneAbsurd          = "absurd"
	ToneSelfDeprecating = "self-deprecating" // 仅用于兜底脚本
)

// SectionTypes 返回所有合法的段落类型
func SectionTypes() []string {
	return []string{
		SectionOpener,
		SectionTechnical,
		SectionSegment,
		SectionPunchline,
		SectionCallback,
	}
}

// IsValidSectionType 检查段落类型是否合法
func IsValidSectionType(sectionType string) bool {
	switch sectionType {
	case SectionOpener, SectionTechnical, SectionSegment, SectionPunchline, SectionCallback:
		return true
	}
	return false
}

// IsValidTone 检查语气是否合法
func IsValidTone(tone string) bool {
	switch tone {
	case ToneSarcastic, ToneSerious, ToneAbsurd, ToneSelfDeprecating:
		return true
	}
	return false
}

// Section 脚本中的一个计时段落
// Devices/Concepts/References 为生成器附带的提示性元数据，不参与校验
type Section struct {
	Type       string   `json:"type" yaml:"type"`
	Text       string   `json:"text" yaml:"text"`
	LengthSec  int      `json:"length_sec" yaml:"length_sec"`
	Devices    []string `json:"devices,omitempty" yaml:"devices,omitempty"`
	Concepts   []string `json:"concepts,omitempty" yaml:"concepts,omitempty"`
	Reference  string   `json:"reference,omitempty" yaml:"reference,omitempty"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// Script 完整的讽刺脚本：有序段落加整体语气
type Script struct {
	Sections []Section              `json:"script" yaml:"script"`
	Tone     string                 `json:"tone" yaml:"tone"`
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TotalLengthSec 返回所有段落时长之和（秒）
func (s *Script) TotalLengthSec() int {
	total := 0
	for _, sec := range s.Sections {
		total += sec.LengthSec
	}
	return total
}

// SectionTypeSet 返回脚本中出现过的段落类型集合
func (s *Script) SectionTypeSet() map[string]bool {
	types := make(map[string]bool, len(s.Sections))
	for _, sec := range s.Sections {
		types[sec.Type] = true
	}
	return types
}

// Clone 返回脚本的深拷贝
// 兜底脚本渲染时基于拷贝做占位符替换，确保配置里的模板不被修改
func (s *Script) Clone() *Script {
	clone := &Script{
		Tone:     s.Tone,
		Sections: make([]Section, len(s.Sections)),
	}

	for i, sec := range s.Sections {
		copied := sec
		if sec.Devices != nil {
			copied.Devices = append([]string(nil), sec.Devices...)
		}
		if sec.Concepts != nil {
			copied.Concepts = append([]string(nil), sec.Concepts...)
		}
		if sec.References != nil {
			copied.References = append([]string(nil), sec.References...)
		}
		clone.Sections[i] = copied
	}

	if s.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}

// ScriptRecord 已产出脚本的存档记录
type ScriptRecord struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Script      *Script   `json:"script"`
	IsFallback  bool      `json:"is_fallback"`
	Attempts    int       `json:"attempts"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	TokensUsed  int       `json:"tokens_used,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	LastFailure string    `json:"last_failure,omitempty"`
}
