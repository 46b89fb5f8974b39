package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/middleware"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/service"
	ws "github.com/wfunc/mafia-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	services       *service.Services
	authHandler    *AuthHandler
	gameHandler    *GameHandler
	adminHandler   *AdminHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器
// hub为空时不挂WebSocket路由，事件只能走REST查询。
func NewRouter(db *gorm.DB, games *game.GameManager, hub *ws.Hub, cfg *config.Config, log *zap.Logger) *Router {
	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	// 创建服务
	services := service.NewServices(db, games, serviceConfig(cfg), log)
	repos := repository.NewManager(db)

	// 事件扇出：先落库，再推送在线订阅方
	sinks := []game.EventSink{services.Recorder}
	var wsHandler *WebSocketHandler
	if hub != nil {
		sinks = append(sinks, hub)
		wsHandler = NewWebSocketHandler(hub, games, cfg.WebSocket, log)
	}
	sink := service.NewMultiSink(sinks...)

	// 创建处理器
	authHandler := NewAuthHandler(services.Auth, services.User)
	gameHandler := NewGameHandler(games, services.Recorder, sink, repos, cfg.Game.Mafia, log)
	adminHandler := NewAdminHandler(services.User, games, repos, log)

	// 创建中间件
	authMiddleware := middleware.NewAuthMiddleware(services.Auth)

	router := &Router{
		engine:         engine,
		db:             db,
		services:       services,
		authHandler:    authHandler,
		gameHandler:    gameHandler,
		adminHandler:   adminHandler,
		wsHandler:      wsHandler,
		authMiddleware: authMiddleware,
		log:            log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// serviceConfig 从应用配置推导服务层配置
func serviceConfig(cfg *config.Config) *service.Config {
	svc := service.DefaultConfig()
	jwt := cfg.Security.JWT
	if jwt.Secret != "" {
		svc.JWTSecret = jwt.Secret
	}
	if jwt.ExpireHours > 0 {
		svc.AccessTokenExpiry = time.Duration(jwt.ExpireHours) * time.Hour
	}
	if jwt.RefreshHours > 0 {
		svc.RefreshTokenExpiry = time.Duration(jwt.RefreshHours) * time.Hour
	}
	if jwt.PlayerHours > 0 {
		svc.PlayerTokenExpiry = time.Duration(jwt.PlayerHours) * time.Hour
	}
	return svc
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)

			// 需要认证的路由
			authRequired := auth.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.GET("/profile", r.authHandler.GetProfile)
				authRequired.PUT("/password", r.authHandler.UpdatePassword)
				authRequired.POST("/player-token", r.authHandler.IssuePlayerToken)
			}
		}

		// 对局路由
		games := v1.Group("/games")
		{
			// 查询接口：匿名可看公开事件，带令牌按许可级别放开
			reads := games.Group("")
			reads.Use(r.authMiddleware.OptionalAuth())
			{
				reads.GET("", r.gameHandler.GetGames)
				reads.GET("/:id/state", r.gameHandler.GetGameState)
				reads.GET("/:id/events", r.gameHandler.GetGameEvents)
			}

			// 对局管理：需要账号令牌
			writes := games.Group("")
			writes.Use(r.authMiddleware.RequireAuth())
			{
				writes.POST("", r.gameHandler.CreateGame)
				writes.POST("/:id/start", r.gameHandler.StartGame)
			}

			// 行动提交：需要对局内的玩家令牌
			plays := games.Group("")
			plays.Use(r.authMiddleware.RequirePlayer())
			{
				plays.POST("/:id/actions", r.gameHandler.SubmitNightAction)
				plays.POST("/:id/votes", r.gameHandler.SubmitVote)
			}
		}

		// 管理员路由（需要管理员权限）
		admin := v1.Group("/admin")
		admin.Use(r.authMiddleware.RequireRole(models.UserRoleAdmin))
		{
			admin.GET("/users", r.adminHandler.GetUsers)
			admin.POST("/users", r.adminHandler.CreateUser)
			admin.PUT("/users/:id/status", r.adminHandler.UpdateUserStatus)
			admin.GET("/games", r.adminHandler.GetArchivedGames)
			admin.POST("/games/:id/advance", r.adminHandler.ForceAdvance)
			admin.POST("/games/:id/stop", r.adminHandler.StopGame)
			admin.GET("/stats", r.adminHandler.GetStats)
		}
	}

	// WebSocket路由
	if r.wsHandler != nil {
		wsGroup := r.engine.Group("/ws")
		wsGroup.Use(r.authMiddleware.OptionalAuth())
		{
			wsGroup.GET("/game", r.wsHandler.GameWebSocket)
			wsGroup.GET("/online", r.wsHandler.GetOnlineCount)
		}
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试和优雅停机）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// Services 获取服务集合（用于测试）
func (r *Router) Services() *service.Services {
	return r.services
}
