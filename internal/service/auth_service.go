package service

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/utils"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrUserNotFound       = errors.New("用户不存在")
	ErrUserFrozen         = errors.New("账号已被冻结")
	ErrInvalidToken       = errors.New("无效的令牌")
	ErrSeatNotFound       = errors.New("对局中没有该座位")
)

// SeatFinder 座位查询，由对局管理器实现
type SeatFinder interface {
	HasSeat(gameID, playerID string) bool
}

// authService 认证服务实现
// 不落会话表，令牌自包含，吊销靠冻结账号与短有效期。
type authService struct {
	userRepo       repository.UserRepository
	seats          SeatFinder
	jwtManager     *utils.JWTManager
	playerTokenTTL time.Duration
	log            *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(
	userRepo repository.UserRepository,
	seats SeatFinder,
	jwtManager *utils.JWTManager,
	playerTokenTTL time.Duration,
	log *zap.Logger,
) AuthService {
	if playerTokenTTL <= 0 {
		playerTokenTTL = 24 * time.Hour
	}
	return &authService{
		userRepo:       userRepo,
		seats:          seats,
		jwtManager:     jwtManager,
		playerTokenTTL: playerTokenTTL,
		log:            log,
	}
}

// Login 账号登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		// 不区分用户不存在和密码错误
		return nil, ErrInvalidCredentials
	}

	ok, err := utils.VerifyPassword(req.Password, user.Password)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive() {
		return nil, ErrUserFrozen
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		s.log.Error("生成访问令牌失败", zap.Error(err))
		return nil, err
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID)
	if err != nil {
		s.log.Error("生成刷新令牌失败", zap.Error(err))
		return nil, err
	}

	// 登录信息写失败不阻断登录
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, req.IP); err != nil {
		s.log.Warn("更新登录信息失败",
			zap.Uint("user_id", user.ID),
			zap.Error(err))
	}

	s.log.Info("账号登录",
		zap.String("username", user.Username),
		zap.String("role", user.Role),
		zap.String("ip", req.IP))

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// RefreshToken 用刷新令牌换新的访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "refresh" {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive() {
		return nil, ErrUserFrozen
	}

	accessToken, err := s.jwtManager.RefreshAccessToken(refreshToken, user.Username, user.Role)
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken 验证访问令牌或玩家令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	switch claims.TokenType {
	case "access":
		// 账号令牌即时检查冻结状态
		user, err := s.userRepo.FindByID(ctx, claims.UserID)
		if err != nil {
			return nil, ErrUserNotFound
		}
		if !user.IsActive() {
			return nil, ErrUserFrozen
		}
		return claims, nil
	case "player":
		// 玩家令牌不对应账号，验签通过即放行
		return claims, nil
	default:
		// 刷新令牌不能当访问令牌用
		return nil, ErrInvalidToken
	}
}

// IssuePlayerToken 为对局座位签发玩家令牌
func (s *authService) IssuePlayerToken(ctx context.Context, gameID, playerID string) (*PlayerTokenResponse, error) {
	if s.seats == nil || !s.seats.HasSeat(gameID, playerID) {
		return nil, ErrSeatNotFound
	}

	token, err := s.jwtManager.GeneratePlayerToken(gameID, playerID, s.playerTokenTTL)
	if err != nil {
		s.log.Error("生成玩家令牌失败",
			zap.String("game_id", gameID),
			zap.String("player_id", playerID),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("签发玩家令牌",
		zap.String("game_id", gameID),
		zap.String("player_id", playerID))

	return &PlayerTokenResponse{
		Token:     token,
		GameID:    gameID,
		PlayerID:  playerID,
		ExpiresIn: int64(s.playerTokenTTL.Seconds()),
		TokenType: "Bearer",
	}, nil
}
