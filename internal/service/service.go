package service

import (
	"time"

	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config 服务配置
type Config struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	PlayerTokenExpiry  time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		JWTSecret:          "your-secret-key-change-in-production",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		PlayerTokenExpiry:  24 * time.Hour,
	}
}

// Services 服务集合
type Services struct {
	Auth     AuthService
	User     UserService
	Recorder *GameRecorder
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, games *game.GameManager, config *Config, log *zap.Logger) *Services {
	repos := repository.NewManager(db)
	userRepo := repos.User()

	jwtManager := utils.NewJWTManager(
		config.JWTSecret,
		config.AccessTokenExpiry,
		config.RefreshTokenExpiry,
	)

	authService := NewAuthService(
		userRepo,
		games,
		jwtManager,
		config.PlayerTokenExpiry,
		log,
	)

	userService := NewUserService(userRepo, log)

	recorder := NewGameRecorder(games, repos, log)

	return &Services{
		Auth:     authService,
		User:     userService,
		Recorder: recorder,
	}
}
