package jobs

import (
	"errors"
	"net/http"
	"time"

	response "agentdesk/api/handlers/common"
	"agentdesk/internal/jobs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 2 * time.Minute
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler 通过 WebSocket 推送任务的 Agent 消息
type StreamHandler struct {
	store    *jobs.Store
	comm     *jobs.Communicator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建处理器
func NewStreamHandler(store *jobs.Store, comm *jobs.Communicator, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		store:  store,
		comm:   comm,
		logger: logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 5 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Stream 先回放已有消息，再推送新消息，直到客户端断开
// @Router /api/jobs/{id}/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := h.store.Get(ctx, response.OwnerID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.Internal(c, err)
		return
	}

	// 先订阅再回放，重复消息按 ID 去重
	ch, cancel := h.comm.Bus().Subscribe(job.ID)
	defer cancel()

	backlog, err := h.comm.ListByJob(ctx, job.ID)
	if err != nil {
		response.Internal(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := h.logger.With(zap.String("job_id", job.ID))
	seen := make(map[string]struct{}, len(backlog))
	for _, msg := range backlog {
		seen[msg.ID] = struct{}{}
		if err := writeMessage(conn, msg); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go readLoop(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			if err := writeMessage(conn, msg); err != nil {
				log.Debug("推送消息失败，关闭连接", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg *jobs.AgentMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(gin.H{"type": "message", "message": msg})
}

// readLoop 只处理控制帧，读失败即视为客户端断开
func readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
