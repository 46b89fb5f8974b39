package service

import (
	"context"

	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/utils"
)

// AuthService 认证服务接口
// 管理端与观察端走账号密码换令牌，玩家端凭对局座位发放临时令牌。
type AuthService interface {
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	IssuePlayerToken(ctx context.Context, gameID, playerID string) (*PlayerTokenResponse, error)
}

// UserService 用户服务接口
type UserService interface {
	GetUserByID(ctx context.Context, userID uint) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error)
	GetUserList(ctx context.Context, page, pageSize int) ([]*models.User, int64, error)
	UpdatePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error
	UpdateUserStatus(ctx context.Context, userID uint, status string) error
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IP       string `json:"-"` // 客户端IP，由handler设置
}

// AuthResponse 认证响应
type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	TokenType    string       `json:"token_type"`
}

// CreateUserRequest 创建账号请求
type CreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

// PlayerTokenRequest 玩家令牌请求
type PlayerTokenRequest struct {
	GameID   string `json:"game_id" binding:"required"`
	PlayerID string `json:"player_id" binding:"required"`
}

// PlayerTokenResponse 玩家令牌响应
type PlayerTokenResponse struct {
	Token     string `json:"token"`
	GameID    string `json:"game_id"`
	PlayerID  string `json:"player_id"`
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
}
