package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 任务事件流（websocket）
// =============================================================================

// HandleEvents 以 websocket 推送任务快照：先发送当前状态，之后每次变更推送一次，
// 任务进入终态后以正常关闭码结束。本进程内的变更来自 EventSource，
// 其他进程的变更通过轮询任务存储获得。
func (h *TaskHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	// 事件流是长连接，清除 http.Server 设置的读写超时（劫持后仍作用于底层连接）
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket upgrade failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())

	var updates <-chan *persistence.Task
	if h.events != nil {
		var cancel func()
		updates, cancel = h.events.Subscribe(id)
		defer cancel()
	}

	// 订阅之后再读一次，避免错过订阅前的变更
	if latest, err := h.tasks.Get(ctx, id); err == nil {
		task = latest
	}

	s := &eventStream{conn: conn, timeout: h.writeTimeout}
	if err := s.send(ctx, task); err != nil {
		return
	}
	if task.Status.IsTerminal() {
		s.finish()
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		var next *persistence.Task
		select {
		case <-ctx.Done():
			return
		case t, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			next = t
		case <-ticker.C:
			t, err := h.tasks.Get(ctx, id)
			if err != nil {
				h.logger.Debug("event stream poll failed", zap.String("task_id", id), zap.Error(err))
				continue
			}
			next = t
		}

		if !s.newer(next) {
			continue
		}
		if err := s.send(ctx, next); err != nil {
			h.logger.Debug("event stream closed", zap.String("task_id", id), zap.Error(err))
			return
		}
		if next.Status.IsTerminal() {
			s.finish()
			return
		}
	}
}

type eventStream struct {
	conn    *websocket.Conn
	timeout time.Duration
	last    *persistence.Task
}

// newer 过滤重复或过期的快照（广播与轮询可能交错到达）
func (s *eventStream) newer(t *persistence.Task) bool {
	if s.last == nil {
		return true
	}
	if t.UpdatedAt.After(s.last.UpdatedAt) {
		return true
	}
	return t.UpdatedAt.Equal(s.last.UpdatedAt) && t.Status != s.last.Status
}

func (s *eventStream) send(ctx context.Context, t *persistence.Task) error {
	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, t); err != nil {
		return err
	}
	s.last = t
	return nil
}

func (s *eventStream) finish() {
	_ = s.conn.Close(websocket.StatusNormalClosure, "task finished")
}
