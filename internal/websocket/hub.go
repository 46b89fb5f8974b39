package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

// Hub 对局事件推送中心
// 订阅方在握手时绑定一个对局和许可级别，调度器每次结算后通过
// Notify触发增量推送，事件过滤始终由引擎完成，推送端不做二次判断。
// 客户端游标只在Hub循环里读写，推不动时停在原地等下一轮续推。
type Hub struct {
	games *game.GameManager
	cfg   config.WebSocketConfig

	// 客户端连接池与对局订阅表
	clients     map[string]*Client
	gameClients map[string][]*Client
	clientsMu   sync.RWMutex

	// 事件通知通道
	notify chan string

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	logger *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string      `json:"type"`
	GameID    string      `json:"game_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"
	MessageTypeClosed    = "closed"

	// 对局事件推送
	MessageTypeEvent = "event"
)

// NewHub 创建推送中心
func NewHub(games *game.GameManager, cfg config.WebSocketConfig, logger *zap.Logger) *Hub {
	return &Hub{
		games:       games,
		cfg:         cfg,
		clients:     make(map[string]*Client),
		gameClients: make(map[string][]*Client),
		notify:      make(chan string, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
	}
}

// Run 运行推送循环直到上下文取消
// 心跳同时充当补推扫描，通知丢失的积压事件最迟在下个心跳补上。
func (h *Hub) Run(ctx context.Context) {
	interval := h.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("推送中心已停止")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case gameID := <-h.notify:
			h.pushGame(gameID)

		case <-ticker.C:
			h.heartbeat()
		}
	}
}

// Notify 对局有新事件时由调度器调用
// 不阻塞调度循环，通道满时直接丢弃，积压由心跳扫描补推。
func (h *Hub) Notify(gameID string) {
	select {
	case h.notify <- gameID:
	default:
	}
}

// registerClient 注册客户端并补推积压事件
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.gameClients[client.GameID] = append(h.gameClients[client.GameID], client)
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("game_id", client.GameID),
		zap.Int64("after_seq", client.lastSeq))

	h.sendTo(client, &Message{
		Type:      MessageTypeConnected,
		GameID:    client.GameID,
		Data:      map[string]interface{}{"message": "连接成功", "after_seq": client.lastSeq},
		Timestamp: time.Now().Unix(),
	})

	h.pushClient(client)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)

		subs := h.gameClients[client.GameID]
		for i, c := range subs {
			if c.ID == client.ID {
				h.gameClients[client.GameID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.gameClients[client.GameID]) == 0 {
			delete(h.gameClients, client.GameID)
		}
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("game_id", client.GameID))
}

// pushGame 向一个对局的全部订阅方推送增量事件
func (h *Hub) pushGame(gameID string) {
	if _, err := h.games.GetGame(gameID); err != nil {
		// 对局已出内存，收尾断开存量订阅
		h.dropGame(gameID)
		return
	}

	for _, client := range h.subscribers(gameID) {
		h.pushClient(client)
	}
}

// pushClient 按客户端的许可级别与游标推送增量事件
func (h *Hub) pushClient(client *Client) {
	instance, err := h.games.GetGame(client.GameID)
	if err != nil {
		return
	}

	events := instance.EventsSince(client.clearance, client.lastSeq)
	for _, ev := range events {
		if !h.sendTo(client, eventMessage(ev)) {
			// 缓冲满就停在当前游标，下一轮通知或心跳续推
			return
		}
		client.lastSeq = ev.Seq
	}
}

// dropGame 对局出内存后通知并断开其订阅方
func (h *Hub) dropGame(gameID string) {
	subs := h.subscribers(gameID)
	for _, client := range subs {
		h.sendTo(client, &Message{
			Type:      MessageTypeClosed,
			GameID:    gameID,
			Data:      map[string]interface{}{"message": "对局已关闭"},
			Timestamp: time.Now().Unix(),
		})
		h.unregisterClient(client)
	}
}

// heartbeat 广播心跳并补推各对局的积压事件
func (h *Hub) heartbeat() {
	ping := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now().Unix(),
	}

	h.clientsMu.RLock()
	gameIDs := make([]string, 0, len(h.gameClients))
	for gameID := range h.gameClients {
		gameIDs = append(gameIDs, gameID)
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	for _, client := range clients {
		h.sendTo(client, ping)
	}
	for _, gameID := range gameIDs {
		h.pushGame(gameID)
	}
}

// subscribers 返回一个对局订阅方的快照
func (h *Hub) subscribers(gameID string) []*Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	subs := make([]*Client, len(h.gameClients[gameID]))
	copy(subs, h.gameClients[gameID])
	return subs
}

// sendTo 序列化并投递消息，缓冲满时返回false
func (h *Hub) sendTo(client *Client, message *Message) bool {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return false
	}

	select {
	case client.Send <- data:
		return true
	default:
		h.logger.Warn("客户端发送缓冲区满",
			zap.String("client_id", client.ID),
			zap.String("game_id", client.GameID))
		return false
	}
}

// closeAll 停机时断开全部客户端
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	h.gameClients = make(map[string][]*Client)
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// GetSubscriberCount 获取某对局的订阅数
func (h *Hub) GetSubscriberCount(gameID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.gameClients[gameID])
}

// Register 注册客户端（公开方法）
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端（公开方法）
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// eventMessage 把引擎事件包装成推送消息
func eventMessage(ev mafia.Event) *Message {
	return &Message{
		Type:      MessageTypeEvent,
		GameID:    ev.GameID,
		Data:      ev,
		Timestamp: time.Now().Unix(),
	}
}
