package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/utils"
	"go.uber.org/zap"
)

var ErrUserExists = errors.New("用户已存在")

// userService 用户服务实现
type userService struct {
	userRepo repository.UserRepository
	log      *zap.Logger
}

// NewUserService 创建用户服务
func NewUserService(userRepo repository.UserRepository, log *zap.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		log:      log,
	}
}

// GetUserByID 根据ID获取用户
func (s *userService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		s.log.Error("Failed to get user by ID", zap.Error(err), zap.Uint("userID", userID))
		return nil, fmt.Errorf("获取用户失败: %w", err)
	}
	return user, nil
}

// GetUserByUsername 根据用户名获取用户
func (s *userService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		s.log.Error("Failed to get user by username", zap.Error(err), zap.String("username", username))
		return nil, fmt.Errorf("获取用户失败: %w", err)
	}
	return user, nil
}

// CreateUser 创建账号（管理端开设观察或管理账号）
func (s *userService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	if _, err := s.userRepo.FindByUsername(ctx, req.Username); err == nil {
		return nil, ErrUserExists
	}

	role := req.Role
	if role == "" {
		role = models.UserRoleObserver
	}
	if role != models.UserRoleAdmin && role != models.UserRoleObserver {
		return nil, errors.New("无效的角色")
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &models.User{
		Username: req.Username,
		Nickname: req.Nickname,
		Password: hashedPassword,
		Role:     role,
		Status:   "active",
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		s.log.Error("Failed to create user", zap.Error(err), zap.String("username", req.Username))
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	s.log.Info("User created", zap.String("username", user.Username), zap.String("role", user.Role))
	return user, nil
}

// GetUserList 获取用户列表
func (s *userService) GetUserList(ctx context.Context, page, pageSize int) ([]*models.User, int64, error) {
	pagination := repository.NewPagination(page, pageSize)
	users, err := s.userRepo.GetAll(ctx, pagination)
	if err != nil {
		s.log.Error("Failed to get user list", zap.Error(err))
		return nil, 0, fmt.Errorf("获取用户列表失败: %w", err)
	}
	return users, pagination.Total, nil
}

// UpdatePassword 更新密码
func (s *userService) UpdatePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("获取用户失败: %w", err)
	}

	valid, err := utils.VerifyPassword(oldPassword, user.Password)
	if err != nil || !valid {
		return errors.New("旧密码不正确")
	}

	if len(newPassword) < 6 {
		return errors.New("新密码长度至少6个字符")
	}

	hashedPassword, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		s.log.Error("Failed to update password", zap.Error(err), zap.Uint("userID", userID))
		return fmt.Errorf("更新密码失败: %w", err)
	}

	s.log.Info("Password updated", zap.Uint("userID", userID))
	return nil
}

// UpdateUserStatus 更新账号状态
func (s *userService) UpdateUserStatus(ctx context.Context, userID uint, status string) error {
	validStatuses := map[string]bool{
		"active": true,
		"frozen": true,
	}

	if !validStatuses[status] {
		return errors.New("无效的状态")
	}

	if err := s.userRepo.UpdateStatus(ctx, userID, status); err != nil {
		s.log.Error("Failed to update user status", zap.Error(err), zap.Uint("userID", userID), zap.String("status", status))
		return fmt.Errorf("更新状态失败: %w", err)
	}

	s.log.Info("User status updated", zap.Uint("userID", userID), zap.String("status", status))
	return nil
}
