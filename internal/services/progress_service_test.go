// internal/services/progress_service_test.go
package services

import (
	"strings"
	"testing"
	"time"
)

func TestCreateTrackerReturnsExisting(t *testing.T) {
	service := NewProgressService()

	first := service.CreateTracker("run-1")
	second := service.CreateTracker("run-1")

	if first != second {
		t.Error("同一任务ID应复用现有跟踪器")
	}
}

func TestGetTracker(t *testing.T) {
	service := NewProgressService()
	service.CreateTracker("run-1")

	if _, exists := service.GetTracker("run-1"); !exists {
		t.Error("已创建的跟踪器应能查到")
	}
	if _, exists := service.GetTracker("run-2"); exists {
		t.Error("未创建的跟踪器不应查到")
	}
}

func TestSubscribeReceivesCurrentState(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")
	tracker.UpdateProgress(30, 1, "正在生成讽刺脚本...")

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	select {
	case update := <-updates:
		if update.Progress != 30 {
			t.Errorf("订阅应立即收到当前进度30，实际 %d", update.Progress)
		}
		if update.Status != RunStatusRunning {
			t.Errorf("状态应为 %s，实际 %s", RunStatusRunning, update.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("订阅后应立即收到当前状态")
	}
}

func TestProgressBroadcast(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)
	<-updates // 丢弃初始状态

	tracker.UpdateProgress(50, 2, "重试中...")

	select {
	case update := <-updates:
		if update.Progress != 50 || update.Attempt != 2 {
			t.Errorf("广播内容不符: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("更新进度后订阅者应收到广播")
	}
}

func TestProgressNeverGoesBackwards(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	tracker.UpdateProgress(60, 1, "")
	tracker.UpdateProgress(40, 1, "")

	if tracker.Progress != 60 {
		t.Errorf("进度不应回退，期望60，实际 %d", tracker.Progress)
	}
}

func TestCompleteClosesDone(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	tracker.Complete("脚本生成完成")

	select {
	case <-tracker.Done:
	default:
		t.Fatal("完成后Done通道应已关闭")
	}

	if tracker.Status != RunStatusCompleted {
		t.Errorf("状态应为 %s，实际 %s", RunStatusCompleted, tracker.Status)
	}
	if tracker.Progress != 100 {
		t.Errorf("完成时进度应为100，实际 %d", tracker.Progress)
	}
}

func TestFailRecordsReason(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	tracker.Fail("上游服务超时")

	if tracker.Status != RunStatusFailed {
		t.Errorf("状态应为 %s，实际 %s", RunStatusFailed, tracker.Status)
	}
	if !strings.Contains(tracker.Message, "上游服务超时") {
		t.Errorf("失败消息应包含原因，实际: %s", tracker.Message)
	}

	select {
	case <-tracker.Done:
	default:
		t.Fatal("失败后Done通道应已关闭")
	}
}

func TestBroadcastSkipsFullSubscriber(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 写满缓冲区，后续广播应非阻塞地跳过
	for i := 0; i < 20; i++ {
		tracker.UpdateProgress(i+1, 0, "")
	}

	done := make(chan struct{})
	go func() {
		tracker.UpdateProgress(99, 0, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("订阅者缓冲区满时广播不应阻塞")
	}
}

func TestSnapshotReflectsCurrentState(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")
	tracker.UpdateProgress(70, 3, "正在存档脚本...")

	update, startTime, updateTime := tracker.Snapshot()

	if update.Progress != 70 || update.Attempt != 3 {
		t.Errorf("快照内容不符: %+v", update)
	}
	if update.Status != RunStatusRunning {
		t.Errorf("状态应为 %s，实际 %s", RunStatusRunning, update.Status)
	}
	if startTime.IsZero() || updateTime.IsZero() {
		t.Error("快照应带有开始时间和更新时间")
	}
}

func TestSnapshotConcurrentWithUpdates(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("run-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tracker.UpdateProgress(i%100, i, "进行中")
		}
		tracker.Complete("")
	}()

	// 与写协程并发轮询，任何读取都必须经由锁
	for {
		update, _, _ := tracker.Snapshot()
		if update.Status == RunStatusCompleted {
			break
		}
	}
	<-done
}

func TestCleanupCompletedTasks(t *testing.T) {
	service := NewProgressService()

	finished := service.CreateTracker("finished")
	finished.Complete("")
	finished.UpdateTime = time.Now().Add(-2 * time.Hour)

	running := service.CreateTracker("running")
	running.UpdateTime = time.Now().Add(-2 * time.Hour)

	service.CleanupCompletedTasks(time.Hour)

	if _, exists := service.GetTracker("finished"); exists {
		t.Error("过期的已完成任务应被清理")
	}
	if _, exists := service.GetTracker("running"); !exists {
		t.Error("仍在运行的任务不应被清理")
	}
}
