// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StudioStats 脚本生成的使用统计
type StudioStats struct {
	TodayRuns     int            `json:"today_runs"`
	TotalRuns     int            `json:"total_runs"`
	FallbackRuns  int            `json:"fallback_runs"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyRuns     map[string]int `json:"daily_runs"`
	MonthlyStats  map[string]int `json:"monthly_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService 提供生成流水线的使用统计功能
type StatsService struct {
	BasePath    string
	statsFile   string
	mutex       sync.Mutex
	cachedStats *StudioStats

	// 时间段检查缓存
	lastCheckDate  string
	lastCheckMonth string
	lastCheckTime  time.Time

	// 批量保存控制
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService 创建统计服务实例
func NewStatsService(basePath string) *StatsService {
	if basePath == "" {
		basePath = "data/stats"
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		fmt.Printf("Warning: Failed to create stats directory: %v\n", err)
	}

	service := &StatsService{
		BasePath:     basePath,
		statsFile:    filepath.Join(basePath, "studio_stats.json"),
		saveInterval: 30 * time.Second,
	}

	service.startPeriodicSave()

	return service
}

// initStatsUnlocked 初始化统计数据，调用方需持有锁
func (s *StatsService) initStatsUnlocked() {
	if loadedStats, err := s.loadStats(); err == nil {
		s.rolloverPeriods(loadedStats)
		s.cachedStats = loadedStats
		return
	}

	// 加载失败或文件不存在，创建新的统计数据
	s.cachedStats = newEmptyStats()

	if err := s.saveStats(s.cachedStats); err != nil {
		fmt.Printf("警告: 保存初始统计数据失败: %v\n", err)
	}
}

func newEmptyStats() *StudioStats {
	return &StudioStats{
		DailyRuns:    make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  time.Now(),
	}
}

// rolloverPeriods 跨天/跨月时重置对应的计数
func (s *StatsService) rolloverPeriods(stats *StudioStats) {
	now := time.Now()
	today := now.Format("2006-01-02")
	thisMonth := now.Format("2006-01")

	lastDate := stats.LastUpdated.Format("2006-01-02")
	lastMonth := stats.LastUpdated.Format("2006-01")

	updated := false

	if today != lastDate {
		stats.TodayRuns = 0
		updated = true
	}

	if thisMonth != lastMonth {
		stats.MonthlyTokens = 0
		updated = true
	}

	if updated {
		stats.LastUpdated = now
		if err := s.saveStats(stats); err != nil {
			fmt.Printf("警告: 更新时间段统计失败: %v\n", err)
		}
	}
}

// loadStats 从文件加载统计数据
func (s *StatsService) loadStats() (*StudioStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}

	var stats StudioStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats data: %w", err)
	}

	// 确保映射已初始化
	if stats.DailyRuns == nil {
		stats.DailyRuns = make(map[string]int)
	}
	if stats.MonthlyStats == nil {
		stats.MonthlyStats = make(map[string]int)
	}

	return &stats, nil
}

// saveStats 保存统计数据到文件
func (s *StatsService) saveStats(stats *StudioStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}

	// 使用临时文件确保原子性写入
	tempFile := s.statsFile + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}

	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}

	return nil
}

// GetStats 获取使用统计的深度副本
func (s *StatsService) GetStats() *StudioStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	if s.needsPeriodUpdate() {
		s.rolloverPeriods(s.cachedStats)
	}

	return s.createStatsCopy()
}

// needsPeriodUpdate 带缓存的时间段检查，减少频繁的时间比较
func (s *StatsService) needsPeriodUpdate() bool {
	now := time.Now()

	// 如果距离上次检查不到10分钟，跳过检查
	if now.Sub(s.lastCheckTime) < 10*time.Minute {
		return false
	}

	s.lastCheckTime = now
	currentDate := now.Format("2006-01-02")
	currentMonth := now.Format("2006-01")

	needsUpdate := currentDate != s.lastCheckDate || currentMonth != s.lastCheckMonth

	if needsUpdate {
		s.lastCheckDate = currentDate
		s.lastCheckMonth = currentMonth
	}

	return needsUpdate
}

// createStatsCopy 创建统计数据的深度副本
func (s *StatsService) createStatsCopy() *StudioStats {
	if s.cachedStats == nil {
		return newEmptyStats()
	}

	return &StudioStats{
		TodayRuns:     s.cachedStats.TodayRuns,
		TotalRuns:     s.cachedStats.TotalRuns,
		FallbackRuns:  s.cachedStats.FallbackRuns,
		MonthlyTokens: s.cachedStats.MonthlyTokens,
		DailyRuns:     copyIntMap(s.cachedStats.DailyRuns),
		MonthlyStats:  copyIntMap(s.cachedStats.MonthlyStats),
		LastUpdated:   s.cachedStats.LastUpdated,
	}
}

func copyIntMap(original map[string]int) map[string]int {
	if original == nil {
		return make(map[string]int)
	}

	copied := make(map[string]int, len(original))
	maps.Copy(copied, original)
	return copied
}

// RecordRun 记录一次生成任务
func (s *StatsService) RecordRun(tokens int, isFallback bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := time.Now()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s.cachedStats.TodayRuns++
	s.cachedStats.TotalRuns++
	if isFallback {
		s.cachedStats.FallbackRuns++
	}
	s.cachedStats.MonthlyTokens += tokens
	s.cachedStats.DailyRuns[today]++
	s.cachedStats.MonthlyStats[month] += tokens
	s.cachedStats.LastUpdated = now

	// 标记为需要保存，但不立即保存
	s.isDirty = true

	if now.Sub(s.lastSaveTime) > s.saveInterval {
		return s.saveStatsImmediate()
	}

	return nil
}

func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty {
		return nil
	}

	err := s.saveStats(s.cachedStats)
	if err == nil {
		s.isDirty = false
		s.lastSaveTime = time.Now()
	}
	return err
}

// startPeriodicSave 定时保存机制
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mutex.Lock()
			if s.isDirty {
				if err := s.saveStatsImmediate(); err != nil {
					fmt.Printf("警告: 定时保存统计数据失败: %v\n", err)
				}
			}
			s.mutex.Unlock()
		}
	}()
}

// ResetStats 重置统计数据（仅用于测试或管理目的）
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	newStats := newEmptyStats()

	if err := s.saveStats(newStats); err != nil {
		return err
	}

	s.cachedStats = newStats
	return nil
}

// Close 关闭服务，确保数据落盘
func (s *StatsService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isDirty {
		return s.saveStatsImmediate()
	}
	return nil
}
