package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/middleware"
	"github.com/wfunc/mafia-game/internal/service"
	ws "github.com/wfunc/mafia-game/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
// 只接运行中的对局，已归档对局的事件走REST接口查询。
type WebSocketHandler struct {
	hub      *ws.Hub
	games    *game.GameManager
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, games *game.GameManager, cfg config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	readBuf := cfg.ReadBufferSize
	if readBuf <= 0 {
		readBuf = 1024
	}
	writeBuf := cfg.WriteBufferSize
	if writeBuf <= 0 {
		writeBuf = 1024
	}

	return &WebSocketHandler{
		hub:   hub,
		games: games,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readBuf,
			WriteBufferSize:   writeBuf,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				// 在生产环境中应该检查Origin
				return true
			},
		},
		logger: logger,
	}
}

// GameWebSocket 订阅对局事件流
// @Summary 订阅对局事件推送
// @Description 升级为WebSocket连接并按令牌身份推送对局事件，支持after_seq断点续传
// @Tags WebSocket
// @Param game_id query string true "对局ID"
// @Param after_seq query int false "只推送该序号之后的事件"
// @Router /ws/game [get]
func (h *WebSocketHandler) GameWebSocket(c *gin.Context) {
	gameID := c.Query("game_id")
	if gameID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "缺少game_id参数",
		})
		return
	}

	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "after_seq必须是整数",
		})
		return
	}

	instance, err := h.games.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: "对局不在运行中",
		})
		return
	}

	// 许可级别在握手时定死，连接期间不随令牌过期变化
	claims := middleware.GetClaims(c)
	clearance := service.ClearanceFor(instance, claims)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("game_id", gameID),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, gameID, clearance.PlayerID, clearance, afterSeq)

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.String("game_id", gameID),
		zap.String("player_id", clearance.PlayerID),
		zap.String("level", string(clearance.Level)))
}

// GetOnlineCount 获取在线连接数
// @Summary 获取在线连接数
// @Tags WebSocket
// @Produce json
// @Router /ws/online [get]
func (h *WebSocketHandler) GetOnlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_count": h.hub.GetOnlineCount(),
	})
}
