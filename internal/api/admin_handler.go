package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/service"
	"go.uber.org/zap"
)

// AdminHandler 管理端处理器
type AdminHandler struct {
	userService service.UserService
	games       *game.GameManager
	repos       *repository.Manager
	log         *zap.Logger
}

// NewAdminHandler 创建管理端处理器
func NewAdminHandler(
	userService service.UserService,
	games *game.GameManager,
	repos *repository.Manager,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		userService: userService,
		games:       games,
		repos:       repos,
		log:         log,
	}
}

// GetUsers 分页列出账号
// @Summary 列出账号
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/users [get]
func (h *AdminHandler) GetUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	users, total, err := h.userService.GetUserList(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询账号列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CreateUser 创建账号
// @Summary 创建账号
// @Description 管理端可创建任意角色的账号，包括管理员
// @Tags Admin
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body service.CreateUserRequest true "账号信息"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/users [post]
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	user, err := h.userService.CreateUser(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "账号创建成功",
		Data:    user,
	})
}

// UpdateUserStatus 更新账号状态
// @Summary 冻结或恢复账号
// @Tags Admin
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path int true "账号ID"
// @Param request body UpdateUserStatusRequest true "目标状态"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/users/{id}/status [put]
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "账号ID必须是整数",
		})
		return
	}

	var req UpdateUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	if err := h.userService.UpdateUserStatus(c.Request.Context(), uint(userID), req.Status); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "UPDATE_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "状态已更新",
	})
}

// GetArchivedGames 分页列出归档对局
// @Summary 列出归档对局
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param status query string false "按状态过滤 running|finished|aborted"
// @Param page query int false "页码"
// @Param page_size query int false "每页条数"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/games [get]
func (h *AdminHandler) GetArchivedGames(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	pagination := repository.NewPagination(page, pageSize)

	var (
		games []*models.Game
		err   error
	)
	if status := c.Query("status"); status != "" {
		games, err = h.repos.Game().FindByStatus(c.Request.Context(), status, pagination)
	} else {
		games, err = h.repos.Game().GetAll(c.Request.Context(), pagination)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询归档对局失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"games":      games,
		"pagination": pagination,
	})
}

// GetStats 归档统计
// @Summary 对局统计
// @Description 各状态对局数、各阵营胜场、平均局长与当前在册对局数
// @Tags Admin
// @Security Bearer
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stats [get]
func (h *AdminHandler) GetStats(c *gin.Context) {
	stats, err := h.repos.Game().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "统计查询失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"archive":      stats,
		"active_games": h.games.ActiveGames(),
	})
}

// ForceAdvance 强制推进当前阶段
// @Summary 强制推进
// @Description 立即按截止规则结算正在等待的阶段，缺席决策照常顶替
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/games/{id}/advance [post]
func (h *AdminHandler) ForceAdvance(c *gin.Context) {
	gameID := c.Param("id")

	instance, err := h.games.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: err.Error(),
		})
		return
	}

	if !instance.ForceAdvance() {
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:    "GAME_NOT_RUNNING",
			Message: "对局未在调度中",
		})
		return
	}

	h.log.Info("管理员强制推进",
		zap.String("game_id", gameID),
		zap.String("phase", string(instance.Engine.Phase())))

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "已强制推进当前阶段",
	})
}

// StopGame 停止对局
// @Summary 停止对局
// @Description 停掉调度循环并把未结束的对局标记为中止
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/games/{id}/stop [post]
func (h *AdminHandler) StopGame(c *gin.Context) {
	gameID := c.Param("id")

	instance, err := h.games.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: err.Error(),
		})
		return
	}
	finished := instance.View().Winner != nil

	if err := h.games.RemoveGame(c.Request.Context(), gameID); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "STOP_FAILED",
			Message: err.Error(),
		})
		return
	}

	// 没分出胜负的对局在归档里标记为中止
	if !finished {
		row, err := h.repos.Game().FindByGameID(c.Request.Context(), gameID)
		if err == nil {
			now := time.Now()
			row.Status = models.GameStatusAborted
			row.FinishedAt = &now
			if err := h.repos.Game().Update(c.Request.Context(), row); err != nil {
				h.log.Warn("标记中止状态失败",
					zap.String("game_id", gameID),
					zap.Error(err))
			}
		} else {
			h.log.Warn("停局时未找到归档行",
				zap.String("game_id", gameID),
				zap.Error(err))
		}
	}

	h.log.Info("管理员停止对局",
		zap.String("game_id", gameID),
		zap.Bool("finished", finished))

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "对局已停止",
	})
}

// UpdateUserStatusRequest 更新账号状态请求
type UpdateUserStatusRequest struct {
	Status string `json:"status" binding:"required"`
}
