// internal/models/article.go
package models

import (
	"time"
)

// Article 一条待加工的新闻素材
type Article struct {
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`

	// 头条评分，由侦察服务的LLM分析填充
	Novelty   int    `json:"novelty,omitempty"`
	Hype      int    `json:"hype,omitempty"`
	Absurdity int    `json:"absurdity,omitempty"`
	ScoreNote string `json:"score_note,omitempty"`
}

// ArticleScore 头条评分的缓存条目
type ArticleScore struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Novelty   int       `json:"novelty"`
	Hype      int       `json:"hype"`
	Absurdity int       `json:"absurdity"`
	Reason    string    `json:"reason,omitempty"`
	CachedAt  time.Time `json:"cached_at"`
}

// Expired 判断缓存条目是否已超过保留期
func (a *ArticleScore) Expired(maxAge time.Duration) bool {
	return time.Since(a.CachedAt) > maxAge
}
