package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

// ErrStaleArchive 存档超过保留时限
var ErrStaleArchive = errors.New("对局存档已过期")

// RecoveryManager 对局恢复管理器
// 从最新存档重建引擎与状态机，并按中断时所处的阶段决定续跑点：
// 夜晚与投票阶段继续收集未结算的提交，其余阶段由调度器重新推进。
type RecoveryManager struct {
	logger    *zap.Logger
	persister StatePersister
	timeout   time.Duration // 存档保留时限
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, persister StatePersister, timeout time.Duration) *RecoveryManager {
	return &RecoveryManager{
		logger:    logger,
		persister: persister,
		timeout:   timeout,
	}
}

// RecoverGame 从存档恢复对局
func (rm *RecoveryManager) RecoverGame(ctx context.Context, gameID string) (*GameInstance, error) {
	data, err := rm.persister.Load(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("加载对局存档失败: %w", err)
	}
	if data.Machine == nil || data.Engine == nil {
		return nil, fmt.Errorf("对局存档不完整: %s", gameID)
	}

	// 超时存档直接清理
	if rm.timeout > 0 && time.Since(data.Machine.LastUpdate) > rm.timeout {
		rm.logger.Warn("对局存档已过期",
			zap.String("game_id", gameID),
			zap.Time("last_update", data.Machine.LastUpdate),
			zap.Duration("timeout", rm.timeout))

		if err := rm.persister.Delete(ctx, gameID); err != nil {
			rm.logger.Error("删除过期存档失败", zap.Error(err))
		}

		return nil, ErrStaleArchive
	}

	engine, err := mafia.RestoreEngine(data.Engine)
	if err != nil {
		return nil, fmt.Errorf("重建引擎失败: %w", err)
	}

	machine := NewStateMachine(gameID, rm.logger, rm.persister)
	machine.LoadFromData(data.Machine)

	// 状态机与引擎阶段不一致说明存档损坏
	if machine.GetPhase() != engine.Phase() {
		return nil, fmt.Errorf("存档阶段不一致: 状态机=%s 引擎=%s", machine.GetPhase(), engine.Phase())
	}

	machine.BindSnapshot(engine.Snapshot)

	instance := &GameInstance{
		GameID:       gameID,
		Engine:       engine,
		Machine:      machine,
		CreatedAt:    data.Machine.StartTime,
		lastActivity: time.Now(),
	}

	strategy := rm.getRecoveryStrategy(engine.Phase())
	if err := strategy(ctx, instance); err != nil {
		return nil, fmt.Errorf("执行恢复策略失败: %w", err)
	}

	rm.logger.Info("对局恢复成功",
		zap.String("game_id", gameID),
		zap.String("phase", string(engine.Phase())))

	return instance, nil
}

// getRecoveryStrategy 根据中断阶段获取恢复策略
func (rm *RecoveryManager) getRecoveryStrategy(phase mafia.Phase) func(context.Context, *GameInstance) error {
	strategies := map[mafia.Phase]func(context.Context, *GameInstance) error{
		mafia.PhaseSetup:         rm.recoverSetup,
		mafia.PhaseNight:         rm.recoverNight,
		mafia.PhaseMorningReveal: rm.recoverPause,
		mafia.PhaseDayDiscussion: rm.recoverPause,
		mafia.PhaseDayVoting:     rm.recoverVoting,
		mafia.PhaseGameOver:      rm.recoverFinished,
	}

	if strategy, exists := strategies[phase]; exists {
		return strategy
	}

	return rm.recoverUnknown
}

// recoverSetup 设置阶段：玩家名单已在快照中，等待开局
func (rm *RecoveryManager) recoverSetup(ctx context.Context, gi *GameInstance) error {
	return nil
}

// recoverNight 夜晚中断：继续收集未提交的行动
func (rm *RecoveryManager) recoverNight(ctx context.Context, gi *GameInstance) error {
	missing := gi.Engine.MissingActors()
	rm.logger.Info("夜晚中断恢复，继续收集行动",
		zap.String("game_id", gi.GameID),
		zap.Int("missing", len(missing)))
	return nil
}

// recoverPause 公布与讨论阶段：无待收集决策，由调度器重新推进
func (rm *RecoveryManager) recoverPause(ctx context.Context, gi *GameInstance) error {
	rm.logger.Info("展示阶段中断恢复，等待调度器推进",
		zap.String("game_id", gi.GameID),
		zap.String("phase", string(gi.Engine.Phase())))
	return nil
}

// recoverVoting 投票中断：继续收集未提交的投票
func (rm *RecoveryManager) recoverVoting(ctx context.Context, gi *GameInstance) error {
	missing := gi.Engine.MissingActors()
	rm.logger.Info("投票中断恢复，继续收集投票",
		zap.String("game_id", gi.GameID),
		zap.Int("missing", len(missing)))
	return nil
}

// recoverFinished 已终局：只读存档，供查询历史
func (rm *RecoveryManager) recoverFinished(ctx context.Context, gi *GameInstance) error {
	rm.logger.Info("恢复已终局对局",
		zap.String("game_id", gi.GameID),
		zap.String("winner", gi.Machine.GetWinner()))
	return nil
}

// recoverUnknown 未知阶段视为存档损坏
func (rm *RecoveryManager) recoverUnknown(ctx context.Context, gi *GameInstance) error {
	return fmt.Errorf("存档阶段无法识别: %s", gi.Engine.Phase())
}
