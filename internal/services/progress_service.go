// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// 生成任务状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ProgressUpdate 一次生成任务的进度更新
type ProgressUpdate struct {
	Progress int    `json:"progress"`          // 进度百分比 (0-100)
	Attempt  int    `json:"attempt,omitempty"` // 当前生成尝试次数
	Message  string `json:"message"`           // 描述性消息
	Status   string `json:"status"`            // 状态：running, completed, failed
}

// ProgressTracker 跟踪单次脚本生成任务的进度
type ProgressTracker struct {
	RunID       string                       // 生成任务唯一标识符
	Progress    int                          // 进度百分比 (0-100)
	Attempt     int                          // 当前尝试次数
	Message     string                       // 当前状态描述
	Status      string                       // 状态：running, completed, failed
	StartTime   time.Time                    // 开始时间
	UpdateTime  time.Time                    // 最后更新时间
	Subscribers map[chan ProgressUpdate]bool // 订阅进度更新的通道
	Done        chan struct{}                // 任务完成信号
	mutex       sync.Mutex                   // 保护并发访问
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器
func (s *ProgressService) CreateTracker(runID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 如果已存在，返回现有追踪器
	if tracker, exists := s.trackers[runID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		RunID:       runID,
		Progress:    0,
		Message:     "生成任务初始化中...",
		Status:      RunStatusRunning,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[runID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(runID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[runID]
	return tracker, exists
}

// UpdateProgress 更新任务进度
func (t *ProgressTracker) UpdateProgress(progress int, attempt int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if progress > t.Progress {
		t.Progress = progress
	}
	if attempt > t.Attempt {
		t.Attempt = attempt
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()

	t.broadcast(ProgressUpdate{
		Progress: t.Progress,
		Attempt:  t.Attempt,
		Message:  t.Message,
		Status:   t.Status,
	})
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.Progress = 100
	if message != "" {
		t.Message = message
	} else {
		t.Message = "生成任务已完成"
	}
	t.Status = RunStatusCompleted
	t.UpdateTime = time.Now()

	t.broadcast(ProgressUpdate{
		Progress: 100,
		Attempt:  t.Attempt,
		Message:  t.Message,
		Status:   RunStatusCompleted,
	})

	close(t.Done)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.Message = fmt.Sprintf("生成任务失败: %s", errorMsg)
	t.Status = RunStatusFailed
	t.UpdateTime = time.Now()

	t.broadcast(ProgressUpdate{
		Progress: t.Progress,
		Attempt:  t.Attempt,
		Message:  t.Message,
		Status:   RunStatusFailed,
	})

	close(t.Done)
}

// Snapshot 原子地读取当前进度，供轮询接口使用
func (t *ProgressTracker) Snapshot() (ProgressUpdate, time.Time, time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return ProgressUpdate{
		Progress: t.Progress,
		Attempt:  t.Attempt,
		Message:  t.Message,
		Status:   t.Status,
	}, t.StartTime, t.UpdateTime
}

// broadcast 向所有订阅者非阻塞地推送更新，调用方需持有锁
func (t *ProgressTracker) broadcast(update ProgressUpdate) {
	for subscriber := range t.Subscribers {
		// 非阻塞发送，如果通道已满则跳过
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// 创建订阅通道，缓冲区设为10以避免阻塞
	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	// 立即发送当前状态
	subscriber <- ProgressUpdate{
		Progress: t.Progress,
		Attempt:  t.Attempt,
		Message:  t.Message,
		Status:   t.Status,
	}

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.Subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks 清理已完成的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isCompleted := tracker.Status == RunStatusCompleted || tracker.Status == RunStatusFailed
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isCompleted && isOld {
			delete(s.trackers, id)
		}
	}
}
