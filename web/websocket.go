package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantlab/logger"
	"quantlab/monitor"
	"quantlab/task"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源（生产环境应该限制）
	},
}

// wsMessage 推送消息的统一外壳
type wsMessage struct {
	Type string      `json:"type"` // progress / heartbeat
	Data interface{} `json:"data"`
}

// client 一个已连接的订阅者（按 owner 过滤进度消息）
type client struct {
	conn  *websocket.Conn
	owner string
}

// Hub WebSocket 中心：任务进度推送 + 空闲心跳
type Hub struct {
	clients    map[*client]bool
	broadcast  chan task.Snapshot
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	heartbeat time.Duration
}

// NewHub 创建 WebSocket 中心
func NewHub(heartbeat time.Duration) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan task.Snapshot, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		heartbeat:  heartbeat,
	}
}

// Run 运行消息分发循环
// 心跳消息携带系统资源快照，连接空闲时也能确认服务存活
func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			h.mu.Unlock()

		case snap := <-h.broadcast:
			h.send(func(c *client) ([]byte, bool) {
				// 进度消息只推给任务的所有者
				if c.owner != snap.Owner {
					return nil, false
				}
				data, err := json.Marshal(wsMessage{Type: "progress", Data: snap})
				return data, err == nil
			})

		case <-ticker.C:
			sysSnap := monitor.Collect()
			h.send(func(c *client) ([]byte, bool) {
				data, err := json.Marshal(wsMessage{Type: "heartbeat", Data: sysSnap})
				return data, err == nil
			})
		}
	}
}

// send 向所有客户端发送消息，写失败的连接被摘除
func (h *Hub) send(build func(*client) ([]byte, bool)) {
	h.mu.RLock()
	var dead []*client
	for c := range h.clients {
		data, ok := build(c)
		if !ok {
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			delete(h.clients, c)
			c.conn.Close()
		}
		h.mu.Unlock()
	}
}

// Publish 把任务快照投递给分发循环（满时丢弃，进度消息可容忍丢失）
func (h *Hub) Publish(snap task.Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
	}
}

// handleWebSocket 升级连接并注册到中心
func (h *Hub) handleWebSocket(c *gin.Context) {
	owner := ownerFrom(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 owner"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("⚠️ WebSocket 升级失败: %v", err)
		return
	}

	cl := &client{conn: conn, owner: owner}
	h.register <- cl

	// 读循环只用于探测断连
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister <- cl
			break
		}
	}
}
