// internal/api/websocket.go
package api

import (
	"net/http"
	"time"

	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/services"
	"github.com/Sardonyx-Labs/NewsSatireStudio/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// RunProgressWebSocket 通过 WebSocket 推送生成任务的实时进度
func (h *Handler) RunProgressWebSocket(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		h.Response.BadRequest(c, "缺少任务ID")
		return
	}

	tracker, exists := h.ProgressService.GetTracker(runID)
	if !exists {
		h.Response.NotFound(c, "生成任务")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Error("WebSocket升级失败", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	// 读协程只负责消费控制帧，客户端断开时通知写循环退出
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				utils.GetLogger().Debug("WebSocket写入失败，客户端可能已断开", map[string]interface{}{
					"run_id": runID,
					"error":  err.Error(),
				})
				return
			}
			if update.Status == services.RunStatusCompleted || update.Status == services.RunStatusFailed {
				// 任务结束，发送关闭帧后退出
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-tracker.Done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
