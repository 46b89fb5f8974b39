package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

// WebSocket配置
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// ping发送周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 512 * 1024 // 512KB
)

// Client WebSocket客户端连接
// 订阅一个对局，事件许可级别在握手时定死，连接期间不再变化。
type Client struct {
	// 客户端唯一标识
	ID string

	// 订阅的对局ID
	GameID string

	// 持玩家令牌连入时的座位ID，观察连接为空
	PlayerID string

	// Hub引用
	Hub *Hub

	// WebSocket连接
	Conn *websocket.Conn

	// 发送缓冲通道
	Send chan []byte

	// 事件许可级别
	clearance mafia.Clearance

	// 已推送到的事件序号，仅Hub循环读写
	lastSeq int64
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, gameID, playerID string, clearance mafia.Clearance, afterSeq int64) *Client {
	return &Client{
		ID:        uuid.New().String(),
		GameID:    gameID,
		PlayerID:  playerID,
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		clearance: clearance,
		lastSeq:   afterSeq,
	}
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	limit := c.Hub.cfg.MaxMessageSize
	if limit <= 0 {
		limit = maxMessageSize
	}
	wait := c.Hub.cfg.PongTimeout
	if wait <= 0 {
		wait = pongWait
	}

	c.Conn.SetReadLimit(limit)
	c.Conn.SetReadDeadline(time.Now().Add(wait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}

		// 处理接收到的消息
		c.handleMessage(message)
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	wait := c.Hub.cfg.WriteTimeout
	if wait <= 0 {
		wait = writeWait
	}
	period := pingPeriod
	if c.Hub.cfg.PongTimeout > 0 {
		period = (c.Hub.cfg.PongTimeout * 9) / 10
	}

	ticker := time.NewTicker(period)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(wait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 批量发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
// 推送通道上客户端只需要回应心跳，其余内容一律视为协议错误。
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Hub.logger.Error("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.sendError("消息格式错误")
		// 断开发送无效JSON的连接
		c.Close()
		return
	}

	// 验证消息类型不为空
	if msg.Type == "" {
		c.Hub.logger.Warn("收到空消息类型",
			zap.String("client_id", c.ID))
		c.sendError("消息类型不能为空")
		c.Close()
		return
	}

	switch msg.Type {
	case MessageTypePong:
		// 客户端响应ping
		c.Hub.logger.Debug("收到pong",
			zap.String("client_id", c.ID))

	default:
		// 不支持的消息类型
		c.Hub.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.sendError("不支持的消息类型: " + msg.Type)
		c.Close()
	}
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	c.Hub.sendTo(c, &Message{
		Type:      MessageTypeError,
		GameID:    c.GameID,
		Data:      map[string]interface{}{"error": message},
		Timestamp: time.Now().Unix(),
	})
}

// Close 关闭客户端连接
func (c *Client) Close() {
	c.Hub.unregister <- c
}
