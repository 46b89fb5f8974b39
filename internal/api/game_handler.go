package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/mafia-game/internal/agent"
	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/middleware"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"github.com/wfunc/mafia-game/internal/service"
	"github.com/wfunc/mafia-game/internal/utils"
	"go.uber.org/zap"
)

// GameHandler 对局处理器
// 读接口对活跃对局直接查引擎，对已淘汰出内存的对局回落到归档库，
// 两条路径返回同一种事件形状。
type GameHandler struct {
	games    *game.GameManager
	recorder *service.GameRecorder
	sink     game.EventSink
	repos    *repository.Manager
	defaults config.MafiaConfig
	log      *zap.Logger
}

// NewGameHandler 创建对局处理器
func NewGameHandler(
	games *game.GameManager,
	recorder *service.GameRecorder,
	sink game.EventSink,
	repos *repository.Manager,
	defaults config.MafiaConfig,
	log *zap.Logger,
) *GameHandler {
	return &GameHandler{
		games:    games,
		recorder: recorder,
		sink:     sink,
		repos:    repos,
		defaults: defaults,
		log:      log,
	}
}

// CreateGame 创建对局
// @Summary 创建对局
// @Description 按给定座位表创建对局，配置空缺项取服务器默认值
// @Tags Game
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body game.CreateGameRequest true "对局配置"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/games [post]
func (h *GameHandler) CreateGame(c *gin.Context) {
	if !requireAccount(c) {
		return
	}

	var req game.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}

	cfg, err := engineConfig(h.defaults, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "身份表不合法",
			Details: err.Error(),
		})
		return
	}

	instance, err := h.games.CreateGame(c.Request.Context(), req.GameID, cfg)
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "对局已存在") {
			status = http.StatusConflict
		}
		c.JSON(status, ErrorResponse{
			Code:    "CREATE_FAILED",
			Message: err.Error(),
		})
		return
	}

	for _, seat := range req.Players {
		if err := instance.Engine.AddPlayer(seat.ID, seat.Name); err != nil {
			// 座位表有问题就整局作废
			_ = h.games.RemoveGame(c.Request.Context(), instance.GameID)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "INVALID_ROSTER",
				Message: err.Error(),
			})
			return
		}
	}

	// 登记失败不影响对局进行，只是归档缺了这局
	if err := h.recorder.RegisterGame(c.Request.Context(), instance); err != nil {
		h.log.Warn("对局登记落库失败",
			zap.String("game_id", instance.GameID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "对局创建成功",
		Data:    h.gameInfo(instance),
	})
}

// StartGame 启动对局调度
// @Summary 启动对局
// @Description 启动调度循环，默认等玩家提交决策，autoplay时全部座位由随机决策方代打
// @Tags Game
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/games/{id}/start [post]
func (h *GameHandler) StartGame(c *gin.Context) {
	if !requireAccount(c) {
		return
	}

	gameID := c.Param("id")
	if _, err := h.games.GetGame(gameID); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: err.Error(),
		})
		return
	}

	var req StartGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "INVALID_REQUEST",
				Message: "请求参数错误",
				Details: err.Error(),
			})
			return
		}
	}

	// 决策方为空表示人工对局，缺席决策只在截止时由引擎顶替
	var provider agent.Provider
	if req.Autoplay {
		seed := req.ProviderSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		provider = agent.NewRandomProvider(seed)
	}

	// 调度生命周期长于本次请求，不能挂在请求上下文上
	if err := h.games.StartGame(context.Background(), gameID, provider, h.sink); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Code:    "START_FAILED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "对局已开始",
	})
}

// GetGames 列出活跃对局
// @Summary 列出活跃对局
// @Description 只返回内存中的对局，历史对局走管理端归档接口
// @Tags Game
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/games [get]
func (h *GameHandler) GetGames(c *gin.Context) {
	ids := h.games.GameIDs()

	infos := make([]game.GameInfo, 0, len(ids))
	for _, id := range ids {
		instance, err := h.games.GetGame(id)
		if err != nil {
			continue
		}
		infos = append(infos, h.gameInfo(instance))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.After(infos[j].StartTime)
	})

	c.JSON(http.StatusOK, gin.H{
		"games": infos,
		"total": len(infos),
	})
}

// GetGameState 查询对局状态
// @Summary 查询对局状态
// @Description 活跃对局返回实时视图，已归档对局返回落库记录
// @Tags Game
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} game.GameInfo
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/games/{id}/state [get]
func (h *GameHandler) GetGameState(c *gin.Context) {
	gameID := c.Param("id")

	if instance, err := h.games.GetGame(gameID); err == nil {
		c.JSON(http.StatusOK, h.gameInfo(instance))
		return
	}

	claims := middleware.GetClaims(c)
	ctx := c.Request.Context()

	// 管理员连角色和死因一起看，其他人只看对局行
	if claims != nil && claims.TokenType == "access" && claims.Role == models.UserRoleAdmin {
		row, err := h.repos.Game().FindWithPlayers(ctx, gameID)
		if err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "GAME_NOT_FOUND",
				Message: "对局不存在",
			})
			return
		}
		c.JSON(http.StatusOK, row)
		return
	}

	row, err := h.repos.Game().FindByGameID(ctx, gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: "对局不存在",
		})
		return
	}
	c.JSON(http.StatusOK, row)
}

// GetGameEvents 查询对局事件
// @Summary 查询对局事件
// @Description 按令牌许可级别过滤事件，支持after_seq增量拉取
// @Tags Game
// @Produce json
// @Param id path string true "对局ID"
// @Param after_seq query int false "只返回该序号之后的事件"
// @Param limit query int false "最多返回条数，默认200"
// @Success 200 {object} EventsResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/games/{id}/events [get]
func (h *GameHandler) GetGameEvents(c *gin.Context) {
	gameID := c.Param("id")

	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "after_seq必须是整数",
		})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil || limit <= 0 {
		limit = 200
	}
	if limit > 500 {
		limit = 500
	}

	claims := middleware.GetClaims(c)

	if instance, err := h.games.GetGame(gameID); err == nil {
		clearance := service.ClearanceFor(instance, claims)
		events := instance.EventsSince(clearance, afterSeq)
		if len(events) > limit {
			events = events[:limit]
		}
		if events == nil {
			events = []mafia.Event{}
		}
		c.JSON(http.StatusOK, EventsResponse{
			GameID:  gameID,
			Events:  events,
			NextSeq: nextSeq(events, afterSeq),
			Source:  "live",
		})
		return
	}

	ctx := c.Request.Context()
	clearance := h.archivedClearance(ctx, gameID, claims)

	rows, err := h.repos.Event().FindVisible(ctx, gameID, clearance, afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    "QUERY_FAILED",
			Message: "查询事件失败",
		})
		return
	}
	if len(rows) == 0 {
		// 区分没有新事件和对局根本不存在
		if _, err := h.repos.Game().FindByGameID(ctx, gameID); err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Code:    "GAME_NOT_FOUND",
				Message: "对局不存在",
			})
			return
		}
	}

	events := make([]mafia.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	c.JSON(http.StatusOK, EventsResponse{
		GameID:  gameID,
		Events:  events,
		NextSeq: nextSeq(events, afterSeq),
		Source:  "archive",
	})
}

// SubmitNightAction 提交夜晚行动
// @Summary 提交夜晚行动
// @Description 需要玩家令牌，只能以令牌绑定的座位提交
// @Tags Game
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body game.NightActionRequest true "夜晚行动"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/games/{id}/actions [post]
func (h *GameHandler) SubmitNightAction(c *gin.Context) {
	gameID := c.Param("id")
	claims := middleware.GetClaims(c)
	if claims == nil || claims.GameID != gameID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:    "TOKEN_GAME_MISMATCH",
			Message: "令牌不属于该对局",
		})
		return
	}

	var req game.NightActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}
	if req.GameID != gameID {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "GAME_ID_MISMATCH",
			Message: "请求与路径中的对局不一致",
		})
		return
	}
	if req.Actor != claims.PlayerID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:    "ACTOR_MISMATCH",
			Message: "只能以本人座位提交行动",
		})
		return
	}

	instance, err := h.games.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: err.Error(),
		})
		return
	}

	d := mafia.Decision{
		Kind:   mafia.ActionKind(strings.ToUpper(req.Kind)),
		Target: req.Target,
	}
	if err := instance.SubmitNight(req.Actor, d); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "ACTION_REJECTED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "行动已提交",
	})
}

// SubmitVote 提交放逐投票
// @Summary 提交放逐投票
// @Description 需要玩家令牌，目标为空表示弃权
// @Tags Game
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body game.VoteRequest true "投票"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/games/{id}/votes [post]
func (h *GameHandler) SubmitVote(c *gin.Context) {
	gameID := c.Param("id")
	claims := middleware.GetClaims(c)
	if claims == nil || claims.GameID != gameID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:    "TOKEN_GAME_MISMATCH",
			Message: "令牌不属于该对局",
		})
		return
	}

	var req game.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "请求参数错误",
			Details: err.Error(),
		})
		return
	}
	if req.GameID != gameID {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "GAME_ID_MISMATCH",
			Message: "请求与路径中的对局不一致",
		})
		return
	}
	if req.Voter != claims.PlayerID {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Code:    "VOTER_MISMATCH",
			Message: "只能以本人座位投票",
		})
		return
	}

	instance, err := h.games.GetGame(gameID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "GAME_NOT_FOUND",
			Message: err.Error(),
		})
		return
	}

	if err := instance.SubmitVote(req.Voter, req.Target); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VOTE_REJECTED",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "投票已提交",
	})
}

// gameInfo 构造对局信息视图
func (h *GameHandler) gameInfo(instance *game.GameInstance) game.GameInfo {
	view := instance.View()
	return game.GameInfo{
		GameID:      view.GameID,
		Phase:       view.Phase,
		Day:         view.Day,
		Turn:        view.Turn,
		Players:     view.Players,
		Winner:      view.Winner,
		ValidEvents: instance.Machine.GetValidEvents(),
		StartTime:   instance.CreatedAt,
		Duration:    time.Since(instance.CreatedAt).Seconds(),
	}
}

// archivedClearance 归档对局的许可级别
// 引擎已不在内存，玩家阵营从归档座位表取。
func (h *GameHandler) archivedClearance(ctx context.Context, gameID string, claims *utils.JWTClaims) mafia.Clearance {
	if claims == nil {
		return mafia.PublicClearance()
	}
	if claims.TokenType == "access" && claims.Role == models.UserRoleAdmin {
		return mafia.AdminClearance()
	}
	if claims.TokenType == "player" && claims.GameID == gameID {
		players, err := h.repos.Game().FindPlayers(ctx, gameID)
		if err == nil {
			for _, p := range players {
				if p.PlayerID == claims.PlayerID && p.Team != "" {
					return mafia.TeamClearance(mafia.Team(p.Team), claims.PlayerID)
				}
			}
		}
	}
	return mafia.PublicClearance()
}

// requireAccount 限定账号令牌调用，玩家令牌只用于参与对局
func requireAccount(c *gin.Context) bool {
	if t, _ := middleware.GetTokenType(c); t == "access" {
		return true
	}
	c.JSON(http.StatusForbidden, ErrorResponse{
		Code:    "ACCOUNT_REQUIRED",
		Message: "该接口需要账号令牌",
	})
	return false
}

// engineConfig 把服务器默认配置与创建请求合成引擎配置
// 玩家数始终以座位表为准，身份表键不区分大小写。
func engineConfig(defaults config.MafiaConfig, req *game.CreateGameRequest) (mafia.Config, error) {
	cfg := mafia.DefaultConfig()

	if len(defaults.Roles) > 0 {
		roles, err := roleTable(defaults.Roles)
		if err != nil {
			return cfg, err
		}
		cfg.Roles = roles
	}
	if defaults.Phases.Night > 0 {
		cfg.Deadlines.Night = defaults.Phases.Night
	}
	if defaults.Phases.Reveal > 0 {
		cfg.Deadlines.Reveal = defaults.Phases.Reveal
	}
	if defaults.Phases.Discussion > 0 {
		cfg.Deadlines.Discussion = defaults.Phases.Discussion
	}
	if defaults.Phases.Voting > 0 {
		cfg.Deadlines.Voting = defaults.Phases.Voting
	}
	if defaults.TieBreak != "" {
		cfg.TieBreak = mafia.TieBreak(defaults.TieBreak)
	}
	cfg.AllowSelfProtectAlways = defaults.AllowSelfProtectAlways
	cfg.AllowSelfInvestigate = defaults.AllowSelfInvestigate
	cfg.MultiRole.Enabled = defaults.MultiRole.Enabled
	if defaults.MultiRole.SabotageBias > 0 {
		cfg.MultiRole.SabotageBias = defaults.MultiRole.SabotageBias
	}

	cfg.PlayerCount = len(req.Players)
	if len(req.Roles) > 0 {
		roles, err := roleTable(req.Roles)
		if err != nil {
			return cfg, err
		}
		cfg.Roles = roles
	} else if !rolesFit(cfg) {
		// 默认身份表与座位数不符时按人数取标准配比
		cfg.Roles = mafia.RolesForPlayers(cfg.PlayerCount)
	}
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}

	return cfg, nil
}

// rolesFit 身份表能否发满这张座位表
// 多重角色模式允许身份多于座位。
func rolesFit(cfg mafia.Config) bool {
	total := 0
	for _, n := range cfg.Roles {
		total += n
	}
	if cfg.MultiRole.Enabled {
		return total >= cfg.PlayerCount
	}
	return total == cfg.PlayerCount
}

// roleTable 身份表键统一成引擎的角色种类，不区分大小写
func roleTable(m map[string]int) (map[mafia.RoleKind]int, error) {
	table := make(map[mafia.RoleKind]int, len(m))
	for k, n := range m {
		kind, err := mafia.ParseRoleKind(strings.ToUpper(k))
		if err != nil {
			return nil, err
		}
		table[kind] = n
	}
	return table, nil
}

// eventFromRow 归档行还原成线上事件的形状
func eventFromRow(row *models.GameEvent) mafia.Event {
	return mafia.Event{
		Seq:        row.Seq,
		GameID:     row.GameID,
		Type:       mafia.EventType(row.Type),
		Visibility: mafia.Visibility(row.Visibility),
		Team:       mafia.Team(row.Team),
		Audience:   row.Audience,
		Actor:      row.Actor,
		Target:     row.Target,
		Payload:    map[string]interface{}(row.Payload),
		Phase:      mafia.Phase(row.Phase),
		Day:        row.Day,
		Turn:       row.Turn,
		Timestamp:  row.OccurredAt,
	}
}

// nextSeq 返回下一次增量拉取的起点
func nextSeq(events []mafia.Event, afterSeq int64) int64 {
	if len(events) == 0 {
		return afterSeq
	}
	return events[len(events)-1].Seq
}

// StartGameRequest 启动对局请求
// Autoplay为真时对局由随机决策方自动推进，用于演示和压测
type StartGameRequest struct {
	Autoplay     bool  `json:"autoplay"`
	ProviderSeed int64 `json:"provider_seed"`
}

// EventsResponse 事件查询响应
type EventsResponse struct {
	GameID  string        `json:"game_id"`
	Events  []mafia.Event `json:"events"`
	NextSeq int64         `json:"next_seq"`
	Source  string        `json:"source"`
}
