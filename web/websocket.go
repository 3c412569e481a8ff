package web

import (
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"pss-service/models"
	"pss-service/pkg/metrics"
	"pss-service/services"
)

// WSMessage WebSocket消息结构
type WSMessage struct {
	Type        string  `json:"type"`
	Code        string  `json:"code,omitempty"`
	Athlete     string  `json:"athlete,omitempty"`
	Round       *int    `json:"round,omitempty"`
	MatchID     string  `json:"match_id,omitempty"`
	Time        int64   `json:"time,omitempty"`
	RawPayload  string  `json:"raw_payload,omitempty"`
	Description string  `json:"description,omitempty"`
	Action      string  `json:"action,omitempty"`
	Recognition string  `json:"recognition,omitempty"`
	Override    string  `json:"override,omitempty"`
	RecSeconds  *float64 `json:"rec_seconds,omitempty"`
	StrSeconds  *float64 `json:"str_seconds,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

// Client WebSocket客户端，send 为有界队列，满时丢弃最旧消息
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.Mutex
	kinds    map[string]bool // 事件类型过滤器
	matchIDs map[string]bool // 场次过滤器
}

// Hub WebSocket Hub，慢客户端只影响自身队列
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *WSMessage
	register   chan *Client
	unregister chan *Client
	queueSize  int
	metrics    *metrics.Manager
	mu         sync.RWMutex
}

// NewHub 创建新的Hub
func NewHub(queueSize int, m *metrics.Manager) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *WSMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		queueSize:  queueSize,
		metrics:    m,
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.Subscribers.Set(float64(total))
			}
			log.Printf("[WS] Client registered. Total clients: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.Subscribers.Set(float64(total))
			}
			log.Printf("[WS] Client unregistered. Total clients: %d", total)

		case message := <-h.broadcast:
			data := h.marshalMessage(message)
			h.mu.RLock()
			for client := range h.clients {
				if !client.shouldReceive(message) {
					continue
				}
				client.enqueue(data, h.metrics)
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast 广播已完成处理的领域事件（实现services.EventBroadcaster接口）
func (h *Hub) Broadcast(ev *models.DomainEvent) {
	h.broadcast <- eventMessage(ev)
}

// BroadcastRaw 广播任意消息，供会话与后端状态通知使用
func (h *Hub) BroadcastRaw(msg *WSMessage) {
	h.broadcast <- msg
}

// eventMessage 领域事件到分发消息的映射
func eventMessage(ev *models.DomainEvent) *WSMessage {
	code := ev.RawPayload
	if i := strings.Index(code, ";"); i >= 0 {
		code = code[:i]
	}
	msg := &WSMessage{
		Type:        string(ev.Kind),
		Code:        code,
		Time:        ev.OccurredAt.UnixMilli(),
		RawPayload:  ev.RawPayload,
		Description: services.Describe(ev),
		Action:      ev.Detail("action"),
		Recognition: string(ev.RecognitionStatus),
		Athlete:     ev.Detail("athlete"),
		Round:       ev.RoundID,
		RecSeconds:  ev.Replay.RecSeconds,
		StrSeconds:  ev.Replay.StrSeconds,
	}
	if ev.MatchID != nil {
		msg.MatchID = *ev.MatchID
	}
	if ev.Override != nil {
		msg.Override = string(ev.Override.Kind)
	}
	return msg
}

// enqueue 投递到客户端队列，满时丢最旧的一条
func (c *Client) enqueue(data []byte, m *metrics.Manager) {
	select {
	case c.send <- data:
		return
	default:
	}

	select {
	case <-c.send:
	default:
	}
	if m != nil {
		m.BroadcastDropped.Inc()
	}

	select {
	case c.send <- data:
	default:
		if m != nil {
			m.BroadcastDropped.Inc()
		}
	}
}

// marshalMessage 序列化消息
func (h *Hub) marshalMessage(message *WSMessage) []byte {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Failed to marshal message: %v", err)
		return []byte("{}")
	}
	return data
}

// shouldReceive 检查客户端是否应该接收消息
func (c *Client) shouldReceive(message *WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.kinds) == 0 && len(c.matchIDs) == 0 {
		return true
	}

	if len(c.kinds) > 0 {
		if _, ok := c.kinds[message.Type]; !ok {
			return false
		}
	}

	if len(c.matchIDs) > 0 {
		if message.MatchID == "" {
			return false
		}
		if _, ok := c.matchIDs[message.MatchID]; !ok {
			return false
		}
	}

	return true
}

// readPump 读取客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] WebSocket error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump 向客户端写入消息
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()

	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleMessage 处理客户端发送的消息（设置过滤器等）
func (c *Client) handleMessage(message []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("[WS] Failed to unmarshal client message: %v", err)
		return
	}

	msgType, ok := msg["type"].(string)
	if !ok {
		return
	}

	switch msgType {
	case "subscribe":
		c.mu.Lock()
		if kinds, ok := msg["kinds"].([]interface{}); ok {
			c.kinds = make(map[string]bool)
			for _, k := range kinds {
				if kind, ok := k.(string); ok {
					c.kinds[kind] = true
				}
			}
		}

		if matchIDs, ok := msg["match_ids"].([]interface{}); ok {
			c.matchIDs = make(map[string]bool)
			for _, m := range matchIDs {
				if matchID, ok := m.(string); ok {
					c.matchIDs[matchID] = true
				}
			}
		}
		c.mu.Unlock()

		log.Printf("[WS] Client subscribed with kinds: %v, matches: %v", c.kinds, c.matchIDs)

	case "unsubscribe":
		c.mu.Lock()
		c.kinds = make(map[string]bool)
		c.matchIDs = make(map[string]bool)
		c.mu.Unlock()
		log.Println("[WS] Client unsubscribed")
	}
}
