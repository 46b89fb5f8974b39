package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/mafia-game/internal/agent"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

// EventSink 事件扇出通知
// 调度器在结算或阶段变更后调用Notify，订阅方按各自的许可级别
// 增量拉取事件，过滤始终由引擎完成。
type EventSink interface {
	Notify(gameID string)
}

// GameRunner 驱动单个对局从开局跑到终局
// 每个阶段按"进入、征询决策、等到集齐或截止、结算"推进，
// 截止时仍缺席的决策由引擎按顶替规则补齐。
// 决策方为空表示人工对局，调度器不征询，只等提交接口和截止时钟。
type GameRunner struct {
	instance *GameInstance
	provider agent.Provider
	logger   *zap.Logger
	sink     EventSink
	poll     time.Duration
}

// NewGameRunner 创建对局调度器
func NewGameRunner(instance *GameInstance, provider agent.Provider, logger *zap.Logger) *GameRunner {
	return &GameRunner{
		instance: instance,
		provider: provider,
		logger:   logger,
		poll:     200 * time.Millisecond,
	}
}

// SetSink 设置事件扇出通知
func (gr *GameRunner) SetSink(sink EventSink) {
	gr.sink = sink
}

// SetPollInterval 设置完整性轮询间隔
func (gr *GameRunner) SetPollInterval(d time.Duration) {
	if d > 0 {
		gr.poll = d
	}
}

// Run 驱动对局直到终局或上下文取消
// 中途恢复的对局从存档所在的阶段继续。
func (gr *GameRunner) Run(ctx context.Context) error {
	eng := gr.instance.Engine

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch eng.Phase() {
		case mafia.PhaseSetup:
			err = gr.startGame(ctx)
		case mafia.PhaseNight:
			err = gr.runNight(ctx)
		case mafia.PhaseMorningReveal:
			err = gr.runReveal(ctx)
		case mafia.PhaseDayDiscussion:
			err = gr.runDiscussion(ctx)
		case mafia.PhaseDayVoting:
			err = gr.runVoting(ctx)
		case mafia.PhaseGameOver:
			gr.logger.Info("对局结束",
				zap.String("game_id", gr.instance.GameID),
				zap.String("winner", gr.instance.Machine.GetWinner()))
			return nil
		default:
			return fmt.Errorf("未知阶段: %s", eng.Phase())
		}
		if err != nil {
			return err
		}
	}
}

// startGame 完成开局并进入首夜
func (gr *GameRunner) startGame(ctx context.Context) error {
	eng := gr.instance.Engine

	if err := eng.Setup(); err != nil && !errors.Is(err, mafia.ErrGameAlreadyStarted) {
		return fmt.Errorf("开局失败: %w", err)
	}
	gr.notify()

	return gr.enterNight(ctx)
}

// enterNight 进入夜晚阶段
func (gr *GameRunner) enterNight(ctx context.Context) error {
	if err := gr.instance.Engine.BeginNight(); err != nil {
		return fmt.Errorf("进入夜晚失败: %w", err)
	}
	if err := gr.instance.Machine.Trigger(ctx, EventBeginNight); err != nil {
		return err
	}
	gr.notify()
	return nil
}

// runNight 征询夜晚行动并结算，然后进入公布阶段或终局
func (gr *GameRunner) runNight(ctx context.Context) error {
	eng := gr.instance.Engine

	// 恢复的对局可能已经结算过当夜
	if eng.LastNight() == nil {
		gr.solicitNight(ctx)

		complete, err := gr.awaitComplete(ctx, eng.Config().Deadlines.Night)
		if err != nil {
			return err
		}

		if _, err := eng.ResolveNight(!complete); err != nil {
			return fmt.Errorf("夜晚结算失败: %w", err)
		}
		gr.persistAfterResolve(ctx)
		gr.notify()
	}

	if eng.Winner() != nil {
		return gr.finishGame(ctx)
	}

	if err := eng.BeginReveal(); err != nil {
		return fmt.Errorf("进入公布阶段失败: %w", err)
	}
	if err := gr.instance.Machine.Trigger(ctx, EventBeginReveal); err != nil {
		return err
	}
	gr.notify()
	return nil
}

// runReveal 公布阶段停留后进入讨论
func (gr *GameRunner) runReveal(ctx context.Context) error {
	if err := gr.pause(ctx, gr.instance.Engine.Config().Deadlines.Reveal); err != nil {
		return err
	}
	if err := gr.instance.Engine.BeginDiscussion(); err != nil {
		return fmt.Errorf("进入讨论阶段失败: %w", err)
	}
	if err := gr.instance.Machine.Trigger(ctx, EventBeginDiscussion); err != nil {
		return err
	}
	gr.notify()
	return nil
}

// runDiscussion 讨论阶段停留后进入投票
func (gr *GameRunner) runDiscussion(ctx context.Context) error {
	if err := gr.pause(ctx, gr.instance.Engine.Config().Deadlines.Discussion); err != nil {
		return err
	}
	if err := gr.instance.Engine.BeginVoting(); err != nil {
		return fmt.Errorf("进入投票阶段失败: %w", err)
	}
	if err := gr.instance.Machine.Trigger(ctx, EventBeginVoting); err != nil {
		return err
	}
	gr.notify()
	return nil
}

// runVoting 征询投票并结算，然后进入下一夜或终局
func (gr *GameRunner) runVoting(ctx context.Context) error {
	eng := gr.instance.Engine

	if eng.LastDay() == nil {
		gr.solicitVotes(ctx)

		complete, err := gr.awaitComplete(ctx, eng.Config().Deadlines.Voting)
		if err != nil {
			return err
		}

		if _, err := eng.ResolveDay(!complete); err != nil {
			return fmt.Errorf("投票结算失败: %w", err)
		}
		gr.persistAfterResolve(ctx)
		gr.notify()
	}

	if eng.Winner() != nil {
		return gr.finishGame(ctx)
	}

	return gr.enterNight(ctx)
}

// finishGame 终结对局
func (gr *GameRunner) finishGame(ctx context.Context) error {
	eng := gr.instance.Engine

	winner := eng.Winner()
	if winner == nil {
		return mafia.ErrNoWinner
	}
	if err := eng.Finish(); err != nil {
		return fmt.Errorf("终局失败: %w", err)
	}

	gr.instance.Machine.SetWinner(string(*winner))
	if err := gr.instance.Machine.Trigger(ctx, EventFinish); err != nil {
		return err
	}
	gr.notify()

	gr.logger.Info("对局终局",
		zap.String("game_id", gr.instance.GameID),
		zap.String("winner", string(*winner)))
	return nil
}

// solicitNight 向仍缺席的行动者逐个征询夜晚决策
func (gr *GameRunner) solicitNight(ctx context.Context) {
	if gr.provider == nil {
		return
	}
	eng := gr.instance.Engine

	for _, actor := range eng.MissingActors() {
		perception, err := gr.perceptionFor(actor)
		if err != nil {
			gr.logger.Warn("构造感知视图失败",
				zap.String("game_id", gr.instance.GameID),
				zap.String("actor", actor),
				zap.Error(err))
			continue
		}

		d, err := gr.provider.DecideNight(ctx, perception)
		if err != nil {
			gr.logger.Warn("决策方未给出夜晚行动",
				zap.String("game_id", gr.instance.GameID),
				zap.String("actor", actor),
				zap.Error(err))
			continue
		}
		if d.Kind == "" {
			continue
		}

		if err := gr.instance.SubmitNight(actor, d); err != nil {
			gr.logger.Warn("夜晚行动被拒绝",
				zap.String("game_id", gr.instance.GameID),
				zap.String("actor", actor),
				zap.String("kind", string(d.Kind)),
				zap.Error(err))
		}
	}
}

// solicitVotes 向仍缺席的投票者逐个征询投票
func (gr *GameRunner) solicitVotes(ctx context.Context) {
	if gr.provider == nil {
		return
	}
	eng := gr.instance.Engine

	for _, voter := range eng.MissingActors() {
		perception, err := gr.perceptionFor(voter)
		if err != nil {
			gr.logger.Warn("构造感知视图失败",
				zap.String("game_id", gr.instance.GameID),
				zap.String("voter", voter),
				zap.Error(err))
			continue
		}

		target, err := gr.provider.DecideVote(ctx, perception)
		if err != nil {
			gr.logger.Warn("决策方未给出投票",
				zap.String("game_id", gr.instance.GameID),
				zap.String("voter", voter),
				zap.Error(err))
			continue
		}

		if err := gr.instance.SubmitVote(voter, target); err != nil {
			gr.logger.Warn("投票被拒绝",
				zap.String("game_id", gr.instance.GameID),
				zap.String("voter", voter),
				zap.Error(err))
		}
	}
}

// perceptionFor 构造行动者的局部视角
// 事件流按该玩家的许可级别过滤，黑手党成员附带队友名单。
func (gr *GameRunner) perceptionFor(actor string) (agent.Perception, error) {
	eng := gr.instance.Engine

	roles, err := eng.PlayerRoles(actor)
	if err != nil {
		return agent.Perception{}, err
	}
	team, err := eng.PlayerTeam(actor)
	if err != nil {
		return agent.Perception{}, err
	}

	view := eng.StateView()
	p := agent.Perception{
		GameID: gr.instance.GameID,
		Actor:  actor,
		Roles:  roles,
		Phase:  view.Phase,
		Day:    view.Day,
		Roster: view.Players,
		Events: eng.Events(mafia.TeamClearance(team, actor)),
	}

	if team == mafia.TeamMafia {
		for _, pv := range view.Players {
			if pv.ID == actor {
				continue
			}
			if t, err := eng.PlayerTeam(pv.ID); err == nil && t == mafia.TeamMafia {
				p.Teammates = append(p.Teammates, pv.ID)
			}
		}
	}

	return p, nil
}

// awaitComplete 等待阶段集齐全部决策，返回是否在截止前集齐
// 管理员强制推进视同截止到期。
func (gr *GameRunner) awaitComplete(ctx context.Context, deadline time.Duration) (bool, error) {
	eng := gr.instance.Engine

	if eng.PhaseComplete() {
		return true, nil
	}
	if deadline <= 0 {
		return false, nil
	}

	force := gr.instance.armForce()
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(gr.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case sig := <-force:
			if gr.currentWait(sig) {
				return false, nil
			}
		case <-timer.C:
			return false, nil
		case <-ticker.C:
			if eng.PhaseComplete() {
				return true, nil
			}
		}
	}
}

// pause 可中断的阶段停留，强制推进直接掠过剩余时长
func (gr *GameRunner) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	force := gr.instance.armForce()
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-force:
			if gr.currentWait(sig) {
				return nil
			}
		case <-timer.C:
			return nil
		}
	}
}

// currentWait 信号是否发给正在等待的这个阶段
func (gr *GameRunner) currentWait(sig forceSignal) bool {
	view := gr.instance.Engine.StateView()
	return sig.phase == view.Phase && sig.day == view.Day
}

// persistAfterResolve 结算后追加存档，失败只记日志不影响对局
func (gr *GameRunner) persistAfterResolve(ctx context.Context) {
	if err := gr.instance.Machine.Persist(ctx); err != nil {
		gr.logger.Error("结算后存档失败",
			zap.String("game_id", gr.instance.GameID),
			zap.Error(err))
	}
}

// notify 通知订阅方拉取增量事件
func (gr *GameRunner) notify() {
	if gr.sink != nil {
		gr.sink.Notify(gr.instance.GameID)
	}
}
