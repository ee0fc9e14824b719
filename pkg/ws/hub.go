package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit         = "init"          // 初始化数据（全量车队快照）
	MsgTypeStatusUpdate = "status_update" // 单车状态更新
	MsgTypeError        = "error"         // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client WebSocket 客户端，归属于单个租户
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID int64
	send     chan []byte
}

// broadcastMsg 租户范围的广播消息
type broadcastMsg struct {
	tenantID int64
	data     []byte
}

// Hub WebSocket 连接管理中心，按租户分组订阅者
// 发布永远不等待慢订阅者：出站队列满时直接断开该订阅者，
// 客户端重连后会重新收到全量快照，自行补齐错过的增量
type Hub struct {
	logger    *zap.Logger
	queueSize int

	clients    map[int64]map[*Client]bool // tenantID -> clients
	broadcast  chan broadcastMsg
	register   chan *Client
	unregister chan *Client
	dropTenant chan int64
	mu         sync.RWMutex

	// 全量快照提供者回调（新订阅者入场时调用）
	getSnapshot func(tenantID int64) interface{}
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger, queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = 64
	}
	return &Hub{
		logger:     logger,
		queueSize:  queueSize,
		clients:    make(map[int64]map[*Client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		dropTenant: make(chan int64),
	}
}

// SetSnapshotProvider 设置全量快照提供者
func (h *Hub) SetSnapshotProvider(provider func(tenantID int64) interface{}) {
	h.getSnapshot = provider
}

// Run 运行 Hub
// 注册、注销、广播在同一个循环里串行处理，保证新订阅者先收到
// 全量快照、之后才收到任何增量
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.tenantID] == nil {
				h.clients[client.tenantID] = make(map[*Client]bool)
			}
			h.clients[client.tenantID][client] = true
			total := len(h.clients[client.tenantID])
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected",
				zap.Int64("tenant_id", client.tenantID),
				zap.Int("tenant_clients", total))

			// 发送初始快照
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.tenantID] {
				select {
				case client.send <- msg.data:
				default:
					// 队列溢出的慢订阅者直接断开，不反压发布方
					delete(h.clients[msg.tenantID], client)
					close(client.send)
					h.logger.Warn("Dropped slow subscriber",
						zap.Int64("tenant_id", msg.tenantID))
				}
			}
			h.mu.Unlock()

		case tenantID := <-h.dropTenant:
			h.mu.Lock()
			for client := range h.clients[tenantID] {
				close(client.send)
			}
			delete(h.clients, tenantID)
			h.mu.Unlock()
			h.logger.Info("Dropped all subscribers for tenant", zap.Int64("tenant_id", tenantID))
		}
	}
}

// removeClient 注销客户端
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if tenantClients, ok := h.clients[client.tenantID]; ok {
		if _, ok := tenantClients[client]; ok {
			delete(tenantClients, client)
			close(client.send)
			if len(tenantClients) == 0 {
				delete(h.clients, client.tenantID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Info("WebSocket client disconnected", zap.Int64("tenant_id", client.tenantID))
}

// sendSnapshot 给新连接的客户端发送全量快照
func (h *Hub) sendSnapshot(client *Client) {
	if h.getSnapshot == nil {
		h.logger.Warn("No snapshot provider set")
		return
	}

	msg := Message{
		Type: MsgTypeInit,
		Data: h.getSnapshot(client.tenantID),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init snapshot to client", zap.Int64("tenant_id", client.tenantID))
	default:
		h.logger.Warn("Failed to send init snapshot, client buffer full")
	}
}

// BroadcastToTenant 向租户的所有订阅者广播消息
func (h *Hub) BroadcastToTenant(tenantID int64, msgType string, data interface{}) {
	msg := Message{
		Type: msgType,
		Data: data,
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.broadcast <- broadcastMsg{tenantID: tenantID, data: jsonData}
}

// BroadcastStatusUpdate 广播单车状态更新
func (h *Hub) BroadcastStatusUpdate(tenantID int64, status interface{}) {
	h.BroadcastToTenant(tenantID, MsgTypeStatusUpdate, status)
}

// DropTenant 断开租户的所有订阅者（租户停用时调用）
func (h *Hub) DropTenant(tenantID int64) {
	h.dropTenant <- tenantID
}

// ClientCount 获取租户当前的订阅者数量
func (h *Hub) ClientCount(tenantID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tenantID])
}

// TotalClients 获取全部订阅者数量
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, tenantClients := range h.clients {
		total += len(tenantClients)
	}
	return total
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, tenantID int64) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		tenantID: tenantID,
		send:     make(chan []byte, hub.queueSize),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump 读取消息（保持连接活跃）
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// 不处理客户端消息，仅保持连接
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
