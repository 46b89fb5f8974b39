package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/mafia-game/internal/agent"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GameManager 对局注册表
// 所有在跑的对局都挂在这里，按对局ID查找，没有全局单例。
type GameManager struct {
	mu          sync.RWMutex
	games       map[string]*GameInstance
	logger      *zap.Logger
	persister   StatePersister
	recovery    *RecoveryManager
	maxGames    int
	idleTimeout time.Duration
}

// ManagerConfig 对局管理器配置
type ManagerConfig struct {
	Logger      *zap.Logger
	DB          *gorm.DB // 为空时仅用内存存档
	MaxGames    int
	IdleTimeout time.Duration
}

// NewGameManager 创建对局管理器
func NewGameManager(config *ManagerConfig) *GameManager {
	// 数据库存档前挂一层内存缓存，进程重启后仍能从库里恢复
	var persister StatePersister
	if config.DB != nil {
		persister = NewCacheStatePersister(
			NewMemoryStatePersister(),
			NewDatabaseStatePersister(config.DB),
		)
	} else {
		persister = NewMemoryStatePersister()
	}

	return &GameManager{
		games:       make(map[string]*GameInstance),
		logger:      config.Logger,
		persister:   persister,
		recovery:    NewRecoveryManager(config.Logger, persister, config.IdleTimeout),
		maxGames:    config.MaxGames,
		idleTimeout: config.IdleTimeout,
	}
}

// Persister 返回存档器，供调度器在结算后追加存档
func (gm *GameManager) Persister() StatePersister {
	return gm.persister
}

// CreateGame 创建新对局
// gameID为空时自动生成。
func (gm *GameManager) CreateGame(ctx context.Context, gameID string, cfg mafia.Config) (*GameInstance, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if gm.maxGames > 0 && len(gm.games) >= gm.maxGames {
		return nil, errors.New("对局数量已达上限")
	}

	if gameID == "" {
		gameID = uuid.New().String()
	}

	if _, exists := gm.games[gameID]; exists {
		return nil, fmt.Errorf("对局已存在: %s", gameID)
	}

	engine, err := mafia.NewEngine(gameID, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建引擎失败: %w", err)
	}

	machine := NewStateMachine(gameID, gm.logger, gm.persister)
	machine.OnPhaseChange(func(from, to mafia.Phase) {
		gm.logger.Info("对局阶段变更",
			zap.String("game_id", gameID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})

	instance := NewGameInstance(gameID, engine, machine)

	gm.games[gameID] = instance

	gm.logger.Info("创建对局",
		zap.String("game_id", gameID),
		zap.Int("player_count", cfg.PlayerCount))

	return instance, nil
}

// GetGame 获取对局
func (gm *GameManager) GetGame(gameID string) (*GameInstance, error) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	instance, exists := gm.games[gameID]
	if !exists {
		return nil, fmt.Errorf("对局不存在: %s", gameID)
	}

	instance.Touch()

	return instance, nil
}

// HasSeat 判断玩家是否占有对局座位
// 死亡座位也算占有，持令牌可继续旁观本方事件。
func (gm *GameManager) HasSeat(gameID, playerID string) bool {
	instance, err := gm.GetGame(gameID)
	if err != nil {
		return false
	}

	for _, p := range instance.View().Players {
		if p.ID == playerID {
			return true
		}
	}

	return false
}

// StartGame 启动对局调度循环
// 调度器在独立goroutine里驱动对局直到终局或上下文取消。
func (gm *GameManager) StartGame(ctx context.Context, gameID string, provider agent.Provider, sink EventSink) error {
	instance, err := gm.GetGame(gameID)
	if err != nil {
		return err
	}

	runner := NewGameRunner(instance, provider, gm.logger)
	if sink != nil {
		runner.SetSink(sink)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !instance.beginRun(cancel) {
		cancel()
		return fmt.Errorf("对局已在调度中: %s", gameID)
	}

	go func() {
		defer cancel()
		defer instance.clearRun()

		if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			gm.logger.Error("对局调度失败",
				zap.String("game_id", gameID),
				zap.Error(err))
			instance.Machine.SetError(err.Error())
		}
	}()

	return nil
}

// RecoverGame 从存档恢复对局并重新纳入注册表
// 对局已在内存中时直接返回。
func (gm *GameManager) RecoverGame(ctx context.Context, gameID string) (*GameInstance, error) {
	if instance, err := gm.GetGame(gameID); err == nil {
		return instance, nil
	}

	instance, err := gm.recovery.RecoverGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	if gm.maxGames > 0 && len(gm.games) >= gm.maxGames {
		return nil, errors.New("对局数量已达上限")
	}
	if existing, exists := gm.games[gameID]; exists {
		return existing, nil
	}

	gm.games[gameID] = instance

	gm.logger.Info("恢复对局入册",
		zap.String("game_id", gameID),
		zap.String("phase", string(instance.Engine.Phase())))

	return instance, nil
}

// RemoveGame 移除对局
// 先停掉调度循环并保存最终存档，再从注册表摘除。
func (gm *GameManager) RemoveGame(ctx context.Context, gameID string) error {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	instance, exists := gm.games[gameID]
	if !exists {
		return fmt.Errorf("对局不存在: %s", gameID)
	}

	instance.stopRunner()

	if err := instance.Machine.Persist(ctx); err != nil {
		gm.logger.Error("保存对局存档失败",
			zap.String("game_id", gameID),
			zap.Error(err))
	}

	delete(gm.games, gameID)

	gm.logger.Info("移除对局",
		zap.String("game_id", gameID),
		zap.String("phase", string(instance.Engine.Phase())))

	return nil
}

// CleanupIdleGames 清理闲置对局
func (gm *GameManager) CleanupIdleGames(ctx context.Context) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	now := time.Now()
	var toRemove []string

	for gameID, instance := range gm.games {
		if instance.IdleFor(now) > gm.idleTimeout {
			toRemove = append(toRemove, gameID)
		}
	}

	for _, gameID := range toRemove {
		instance := gm.games[gameID]
		instance.stopRunner()

		if err := instance.Machine.Persist(ctx); err != nil {
			gm.logger.Error("保存闲置对局存档失败",
				zap.String("game_id", gameID),
				zap.Error(err))
		}

		delete(gm.games, gameID)

		gm.logger.Info("清理闲置对局",
			zap.String("game_id", gameID),
			zap.Duration("idle", instance.IdleFor(now)))
	}
}

// StartCleanupTask 启动闲置清理任务
func (gm *GameManager) StartCleanupTask(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				gm.logger.Info("停止对局清理任务")
				return
			case <-ticker.C:
				gm.CleanupIdleGames(ctx)
			}
		}
	}()
}

// ActiveGames 返回在册对局数
func (gm *GameManager) ActiveGames() int {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return len(gm.games)
}

// GameIDs 返回全部在册对局ID
func (gm *GameManager) GameIDs() []string {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	ids := make([]string, 0, len(gm.games))
	for id := range gm.games {
		ids = append(ids, id)
	}
	return ids
}

// GameStats 返回对局统计
func (gm *GameManager) GameStats(gameID string) (map[string]interface{}, error) {
	instance, err := gm.GetGame(gameID)
	if err != nil {
		return nil, err
	}

	view := instance.View()
	alive := 0
	for _, p := range view.Players {
		if p.Alive {
			alive++
		}
	}

	stats := map[string]interface{}{
		"game_id":    view.GameID,
		"phase":      view.Phase,
		"day":        view.Day,
		"turn":       view.Turn,
		"players":    len(view.Players),
		"alive":      alive,
		"start_time": instance.CreatedAt,
		"duration":   time.Since(instance.CreatedAt).Seconds(),
	}
	if view.Winner != nil {
		stats["winner"] = *view.Winner
	}

	return stats, nil
}
