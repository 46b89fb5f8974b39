package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

// ErrInvalidTransition 非法的阶段转换属于调用方编程错误
var ErrInvalidTransition = errors.New("非法的阶段转换")

// 状态机事件
const (
	EventBeginNight      = "begin_night"
	EventBeginReveal     = "begin_reveal"
	EventBeginDiscussion = "begin_discussion"
	EventBeginVoting     = "begin_voting"
	EventFinish          = "finish"
)

// StateTransition 阶段转换定义
type StateTransition struct {
	From   mafia.Phase
	Event  string
	To     mafia.Phase
	Action func(ctx context.Context, sm *StateMachine) error
}

// StateMachine 对局阶段状态机
// 与引擎阶段一一对应，负责阶段转换的合法性、回调与持久化；
// 结算本身不改变阶段，由引擎完成。
type StateMachine struct {
	mu           sync.RWMutex
	currentPhase mafia.Phase
	gameID       string
	transitions  map[string][]StateTransition
	logger       *zap.Logger

	// 状态数据
	day        int       // 天数（进入夜晚时递增）
	turn       int       // 回合数
	winner     string    // 获胜阵营（终局前为空）
	startTime  time.Time // 对局开始时间
	lastUpdate time.Time // 最后更新时间
	errorMsg   string    // 错误信息

	// 回调函数
	onPhaseChange func(from, to mafia.Phase)
	onError       func(err error)

	// 持久化
	persister  StatePersister
	snapshotFn func() *mafia.Snapshot
}

// StatePersister 对局状态持久化接口
type StatePersister interface {
	Save(ctx context.Context, gameID string, data *PersistedGame) error
	Load(ctx context.Context, gameID string) (*PersistedGame, error)
	Delete(ctx context.Context, gameID string) error
}

// StateMachineData 状态机数据（用于持久化）
type StateMachineData struct {
	GameID       string      `json:"game_id"`
	CurrentPhase mafia.Phase `json:"current_phase"`
	Day          int         `json:"day"`
	Turn         int         `json:"turn"`
	Winner       string      `json:"winner,omitempty"`
	StartTime    time.Time   `json:"start_time"`
	LastUpdate   time.Time   `json:"last_update"`
	ErrorMsg     string      `json:"error_msg,omitempty"`
}

// PersistedGame 落盘文档：状态机数据加上引擎完整快照
// 引擎快照内含事件日志与未结算提交，是恢复对局的唯一事实来源。
type PersistedGame struct {
	Machine *StateMachineData `json:"machine"`
	Engine  *mafia.Snapshot   `json:"engine,omitempty"`
}

// NewStateMachine 创建新的阶段状态机
func NewStateMachine(gameID string, logger *zap.Logger, persister StatePersister) *StateMachine {
	sm := &StateMachine{
		currentPhase: mafia.PhaseSetup,
		gameID:       gameID,
		transitions:  make(map[string][]StateTransition),
		logger:       logger,
		lastUpdate:   time.Now(),
		persister:    persister,
	}

	sm.initTransitions()

	return sm
}

// initTransitions 初始化阶段转换规则
func (sm *StateMachine) initTransitions() {
	// 设置 -> 夜晚（开局）
	sm.addTransition(StateTransition{
		From:  mafia.PhaseSetup,
		Event: EventBeginNight,
		To:    mafia.PhaseNight,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.startTime = time.Now()
			sm.day++
			sm.turn++
			sm.logger.Info("对局进入首夜",
				zap.String("game_id", sm.gameID),
				zap.Int("day", sm.day))
			return nil
		},
	})

	// 夜晚 -> 清晨公布（夜晚已结算且未分出胜负）
	sm.addTransition(StateTransition{
		From:  mafia.PhaseNight,
		Event: EventBeginReveal,
		To:    mafia.PhaseMorningReveal,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.logger.Info("公布夜晚死讯",
				zap.String("game_id", sm.gameID),
				zap.Int("day", sm.day))
			return nil
		},
	})

	// 清晨公布 -> 白天讨论
	sm.addTransition(StateTransition{
		From:  mafia.PhaseMorningReveal,
		Event: EventBeginDiscussion,
		To:    mafia.PhaseDayDiscussion,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.logger.Info("进入白天讨论",
				zap.String("game_id", sm.gameID),
				zap.Int("day", sm.day))
			return nil
		},
	})

	// 白天讨论 -> 白天投票
	sm.addTransition(StateTransition{
		From:  mafia.PhaseDayDiscussion,
		Event: EventBeginVoting,
		To:    mafia.PhaseDayVoting,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.logger.Info("进入白天投票",
				zap.String("game_id", sm.gameID),
				zap.Int("day", sm.day))
			return nil
		},
	})

	// 白天投票 -> 夜晚（投票已结算且未分出胜负）
	sm.addTransition(StateTransition{
		From:  mafia.PhaseDayVoting,
		Event: EventBeginNight,
		To:    mafia.PhaseNight,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.day++
			sm.turn++
			sm.logger.Info("进入下一个夜晚",
				zap.String("game_id", sm.gameID),
				zap.Int("day", sm.day))
			return nil
		},
	})

	// 夜晚/投票 -> 游戏结束（胜负已定）
	for _, from := range []mafia.Phase{mafia.PhaseNight, mafia.PhaseDayVoting} {
		sm.addTransition(StateTransition{
			From:  from,
			Event: EventFinish,
			To:    mafia.PhaseGameOver,
			Action: func(ctx context.Context, sm *StateMachine) error {
				if sm.winner == "" {
					return errors.New("胜负未定不能终局")
				}
				duration := time.Since(sm.startTime)
				sm.logger.Info("对局结束",
					zap.String("game_id", sm.gameID),
					zap.String("winner", sm.winner),
					zap.Int("days", sm.day),
					zap.Duration("duration", duration))
				return nil
			},
		})
	}
}

// addTransition 添加阶段转换
func (sm *StateMachine) addTransition(transition StateTransition) {
	key := sm.transitionKey(transition.From, transition.Event)
	sm.transitions[key] = append(sm.transitions[key], transition)
}

// transitionKey 生成转换键
func (sm *StateMachine) transitionKey(phase mafia.Phase, event string) string {
	return fmt.Sprintf("%s:%s", phase, event)
}

// Trigger 触发阶段转换事件
func (sm *StateMachine) Trigger(ctx context.Context, event string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := sm.transitionKey(sm.currentPhase, event)
	transitions, exists := sm.transitions[key]
	if !exists || len(transitions) == 0 {
		return fmt.Errorf("%w: 阶段=%s, 事件=%s", ErrInvalidTransition, sm.currentPhase, event)
	}

	transition := transitions[0]
	oldPhase := sm.currentPhase

	if transition.Action != nil {
		if err := transition.Action(ctx, sm); err != nil {
			// 转换失败，保持原阶段
			if sm.onError != nil {
				sm.onError(err)
			}
			return fmt.Errorf("阶段转换失败: %w", err)
		}
	}

	sm.currentPhase = transition.To
	sm.lastUpdate = time.Now()

	if sm.onPhaseChange != nil {
		sm.onPhaseChange(oldPhase, sm.currentPhase)
	}

	if sm.persister != nil {
		data := sm.toPersisted()
		if err := sm.persister.Save(ctx, sm.gameID, data); err != nil {
			sm.logger.Error("持久化对局状态失败",
				zap.Error(err),
				zap.String("game_id", sm.gameID))
		}
	}

	sm.logger.Info("阶段转换",
		zap.String("game_id", sm.gameID),
		zap.String("from", string(oldPhase)),
		zap.String("to", string(sm.currentPhase)),
		zap.String("event", event))

	return nil
}

// GetPhase 获取当前阶段
func (sm *StateMachine) GetPhase() mafia.Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentPhase
}

// GetDay 获取当前天数
func (sm *StateMachine) GetDay() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.day
}

// GetTurn 获取累计回合数
func (sm *StateMachine) GetTurn() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.turn
}

// SetWinner 记录获胜阵营（终局转换的前置条件）
func (sm *StateMachine) SetWinner(winner string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.winner = winner
}

// GetWinner 获取获胜阵营
func (sm *StateMachine) GetWinner() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.winner
}

// SetError 设置错误信息
func (sm *StateMachine) SetError(err string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errorMsg = err
}

// OnPhaseChange 设置阶段变更回调
func (sm *StateMachine) OnPhaseChange(fn func(from, to mafia.Phase)) {
	sm.onPhaseChange = fn
}

// OnError 设置错误回调
func (sm *StateMachine) OnError(fn func(err error)) {
	sm.onError = fn
}

// BindSnapshot 绑定引擎快照来源，转换时随状态机数据一并落盘
func (sm *StateMachine) BindSnapshot(fn func() *mafia.Snapshot) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.snapshotFn = fn
}

// CanTransition 检查当前阶段能否触发指定事件
func (sm *StateMachine) CanTransition(event string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	key := sm.transitionKey(sm.currentPhase, event)
	transitions, exists := sm.transitions[key]
	return exists && len(transitions) > 0
}

// GetValidEvents 获取当前阶段下的有效事件
func (sm *StateMachine) GetValidEvents() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var events []string
	prefix := string(sm.currentPhase) + ":"

	for key := range sm.transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			event := key[len(prefix):]
			events = append(events, event)
		}
	}

	return events
}

// toData 转换为持久化数据
func (sm *StateMachine) toData() *StateMachineData {
	return &StateMachineData{
		GameID:       sm.gameID,
		CurrentPhase: sm.currentPhase,
		Day:          sm.day,
		Turn:         sm.turn,
		Winner:       sm.winner,
		StartTime:    sm.startTime,
		LastUpdate:   sm.lastUpdate,
		ErrorMsg:     sm.errorMsg,
	}
}

// toPersisted 组装落盘文档（状态机数据加引擎快照）
func (sm *StateMachine) toPersisted() *PersistedGame {
	data := &PersistedGame{Machine: sm.toData()}
	if sm.snapshotFn != nil {
		data.Engine = sm.snapshotFn()
	}
	return data
}

// Persist 立即落盘当前状态
// 结算改变了引擎状态但没有伴随阶段转换时由调度器调用。
func (sm *StateMachine) Persist(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.persister == nil {
		return nil
	}
	sm.lastUpdate = time.Now()
	return sm.persister.Save(ctx, sm.gameID, sm.toPersisted())
}

// LoadFromData 从持久化数据加载
func (sm *StateMachine) LoadFromData(data *StateMachineData) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.gameID = data.GameID
	sm.currentPhase = data.CurrentPhase
	sm.day = data.Day
	sm.turn = data.Turn
	sm.winner = data.Winner
	sm.startTime = data.StartTime
	sm.lastUpdate = data.LastUpdate
	sm.errorMsg = data.ErrorMsg
}

// Reset 重置状态机
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.currentPhase = mafia.PhaseSetup
	sm.day = 0
	sm.turn = 0
	sm.winner = ""
	sm.startTime = time.Time{}
	sm.lastUpdate = time.Now()
	sm.errorMsg = ""
}
