package game

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/mafia-game/internal/game/mafia"
)

// GameInstance 对局实例
// 把引擎、状态机与调度句柄捆绑在一起，由GameManager统一持有。
// 引擎自身已串行化，这里的锁只保护活动时间与调度句柄。
type GameInstance struct {
	GameID    string
	Engine    *mafia.Engine
	Machine   *StateMachine
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	cancel       context.CancelFunc // 调度循环的停止句柄
	force        chan forceSignal   // 管理员强制推进信号
}

// forceSignal 强制推进信号，带发出时刻的阶段标记
// 调度器只认标记与当前等待阶段一致的信号，过期信号直接丢弃。
type forceSignal struct {
	phase mafia.Phase
	day   int
}

// NewGameInstance 组装对局实例并把状态机快照绑到引擎上
func NewGameInstance(gameID string, engine *mafia.Engine, machine *StateMachine) *GameInstance {
	machine.BindSnapshot(engine.Snapshot)
	return &GameInstance{
		GameID:       gameID,
		Engine:       engine,
		Machine:      machine,
		CreatedAt:    time.Now(),
		lastActivity: time.Now(),
	}
}

// Touch 更新活动时间
func (gi *GameInstance) Touch() {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.lastActivity = time.Now()
}

// IdleFor 返回距最后一次活动的时长
func (gi *GameInstance) IdleFor(now time.Time) time.Duration {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return now.Sub(gi.lastActivity)
}

// SubmitNight 提交夜晚行动
func (gi *GameInstance) SubmitNight(actor string, d mafia.Decision) error {
	gi.Touch()
	return gi.Engine.SubmitNightDecision(actor, d)
}

// SubmitVote 提交放逐投票
func (gi *GameInstance) SubmitVote(voter, target string) error {
	gi.Touch()
	return gi.Engine.SubmitVote(voter, target)
}

// View 返回当前状态视图
func (gi *GameInstance) View() mafia.StateView {
	return gi.Engine.StateView()
}

// EventsSince 按许可级别返回指定序号之后的事件
func (gi *GameInstance) EventsSince(c mafia.Clearance, afterSeq int64) []mafia.Event {
	return gi.Engine.EventsSince(c, afterSeq)
}

// beginRun 登记调度句柄，对局已在调度中时返回false
func (gi *GameInstance) beginRun(cancel context.CancelFunc) bool {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	if gi.cancel != nil {
		return false
	}
	gi.cancel = cancel
	return true
}

// clearRun 调度循环退出时清除句柄
func (gi *GameInstance) clearRun() {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	gi.cancel = nil
}

// stopRunner 停止调度循环
func (gi *GameInstance) stopRunner() {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	if gi.cancel != nil {
		gi.cancel()
		gi.cancel = nil
	}
}

// Running 对局是否处于调度中
func (gi *GameInstance) Running() bool {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return gi.cancel != nil
}

// ForceAdvance 请求立即结束当前阶段的等待
// 等待中的阶段按截止规则结算，缺席决策照常顶替。
// 对局未在调度中时不生效，返回false。
func (gi *GameInstance) ForceAdvance() bool {
	gi.mu.Lock()
	running := gi.cancel != nil
	ch := gi.forceChan()
	gi.mu.Unlock()

	if !running {
		return false
	}

	view := gi.Engine.StateView()
	// 覆盖尚未被消费的旧信号，只保留最新一次
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- forceSignal{phase: view.Phase, day: view.Day}:
	default:
	}
	return true
}

// armForce 进入阶段等待前领取强制推进通道
func (gi *GameInstance) armForce() <-chan forceSignal {
	gi.mu.Lock()
	defer gi.mu.Unlock()
	return gi.forceChan()
}

// forceChan 延迟建立强制推进通道，调用方持锁
func (gi *GameInstance) forceChan() chan forceSignal {
	if gi.force == nil {
		gi.force = make(chan forceSignal, 1)
	}
	return gi.force
}

// PlayerSeat 一个席位上的玩家
type PlayerSeat struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// CreateGameRequest 创建对局请求
type CreateGameRequest struct {
	GameID  string         `json:"game_id"`
	Players []PlayerSeat   `json:"players" binding:"required,min=3,dive"`
	Roles   map[string]int `json:"roles"`
	Seed    int64          `json:"seed"`
}

// NightActionRequest 夜晚行动请求
type NightActionRequest struct {
	GameID string `json:"game_id" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	Target string `json:"target"`
}

// VoteRequest 放逐投票请求
type VoteRequest struct {
	GameID string `json:"game_id" binding:"required"`
	Voter  string `json:"voter" binding:"required"`
	Target string `json:"target"`
}

// GameInfo 对局信息
type GameInfo struct {
	GameID      string             `json:"game_id"`
	Phase       mafia.Phase        `json:"phase"`
	Day         int                `json:"day"`
	Turn        int                `json:"turn"`
	Players     []mafia.PlayerView `json:"players"`
	Winner      *mafia.Team        `json:"winner,omitempty"`
	ValidEvents []string           `json:"valid_events"`
	StartTime   time.Time          `json:"start_time"`
	Duration    float64            `json:"duration"`
}
