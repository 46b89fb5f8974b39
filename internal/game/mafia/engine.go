package mafia

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrGameAlreadyStarted = errors.New("游戏已经开始")
	ErrGameNotStarted     = errors.New("游戏尚未开始")
	ErrGameFinished       = errors.New("游戏已经结束")
	ErrWrongPhase         = errors.New("当前阶段不允许该操作")
	ErrPhaseNotComplete   = errors.New("阶段尚未满足结算条件")
	ErrPhaseNotResolved   = errors.New("阶段尚未结算")
	ErrNoWinner           = errors.New("尚未产生胜者")
	ErrUnknownActor       = errors.New("行动者不存在")
	ErrActorNotAlive      = errors.New("行动者已出局")
	ErrNoSuchAbility      = errors.New("行动者没有对应技能")
	ErrAbilityConsumed    = errors.New("一次性技能已经用过")
	ErrPlayerExists       = errors.New("玩家已加入")
	ErrPlayerLimit        = errors.New("玩家数量已满")
	ErrInvalidRoleTable   = errors.New("无效的身份表")
	ErrInvalidConfig      = errors.New("无效的游戏配置")
	ErrEventIncomplete    = errors.New("事件缺少必要字段")
)

// Engine 单局游戏引擎
// 调用方串行驱动：同一时刻只有一个阶段处于活动状态，
// 决策先收集后结算，结算结果与提交顺序无关。
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	registry  *Registry
	conflict  *ConflictResolver
	rng       *Rand
	state     *GameState
	log       *EventLog
	collector *Collector

	started       bool
	nightResolved bool
	dayResolved   bool
	lastNight     *NightOutcome
	lastDay       *DayOutcome
}

// NewEngine 创建游戏引擎
func NewEngine(gameID string, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = NewSeed()
	}
	registry := NewRegistry()
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		conflict: NewConflictResolver(cfg, registry),
		rng:      NewRand(cfg.Seed),
		state: &GameState{
			GameID:        gameID,
			Phase:         PhaseSetup,
			UsedShots:     make(map[string]bool),
			LastProtected: make(map[string]string),
			Seed:          cfg.Seed,
		},
		log: NewEventLog(gameID),
	}
	e.emit(Event{
		Type:       EventGameCreated,
		Visibility: VisibilityPublic,
		Payload: map[string]interface{}{
			"player_count": cfg.PlayerCount,
		},
	})
	return e, nil
}

// Config 返回游戏配置
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// GameID 返回游戏ID
func (e *Engine) GameID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.GameID
}

// AddPlayer 加入玩家
// 身份先于角色存在，角色在Setup时才分配。
func (e *Engine) AddPlayer(id, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseSetup {
		return fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	if e.started {
		return ErrGameAlreadyStarted
	}
	if len(e.state.Players) >= e.cfg.PlayerCount {
		return ErrPlayerLimit
	}
	if e.state.FindPlayer(id) != nil {
		return fmt.Errorf("%w: %s", ErrPlayerExists, id)
	}

	p := &Player{
		ID:    id,
		Name:  name,
		Seat:  len(e.state.Players) + 1,
		Alive: true,
	}
	e.state.Players = append(e.state.Players, p)
	e.emit(Event{
		Type:       EventPlayerJoined,
		Visibility: VisibilityPublic,
		Actor:      id,
		Payload: map[string]interface{}{
			"name": name,
			"seat": p.Seat,
		},
	})
	return nil
}

// Setup 分配角色并锁定开局
// 角色一经分配整局不可变更。
func (e *Engine) Setup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrGameAlreadyStarted
	}
	if e.state.Phase != PhaseSetup {
		return fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	if len(e.state.Players) != e.cfg.PlayerCount {
		return fmt.Errorf("%w: 玩家数量%d/%d", ErrInvalidConfig, len(e.state.Players), e.cfg.PlayerCount)
	}

	e.assignRoles()
	e.started = true
	e.state.StartedAt = time.Now()

	for _, p := range e.state.Players {
		e.emit(Event{
			Type:       EventRoleAssigned,
			Visibility: VisibilityPrivateTeam,
			Team:       p.Team(),
			Audience:   p.ID,
			Target:     p.ID,
			Payload: map[string]interface{}{
				"roles": p.RoleNames(),
			},
		})
	}

	var mafiaRoster []string
	for _, p := range e.state.Players {
		if p.Team() == TeamMafia {
			mafiaRoster = append(mafiaRoster, p.ID)
		}
	}
	e.emit(Event{
		Type:       EventTeamRoster,
		Visibility: VisibilityPrivateTeam,
		Team:       TeamMafia,
		Payload: map[string]interface{}{
			"members": mafiaRoster,
		},
	})

	table := make(map[string]interface{}, len(e.state.Players))
	for _, p := range e.state.Players {
		table[p.ID] = p.RoleNames()
	}
	e.emit(Event{
		Type:       EventRoleTable,
		Visibility: VisibilityAdminOnly,
		Payload: map[string]interface{}{
			"roles": table,
			"seed":  e.state.Seed,
		},
	})
	e.emit(Event{
		Type:       EventGameStarted,
		Visibility: VisibilityPublic,
		Payload: map[string]interface{}{
			"player_count": len(e.state.Players),
		},
	})
	return nil
}

// assignRoles 把身份表洗牌后发给玩家
// 多重角色模式下身份总数可以超过玩家数，多出的身份按座位
// 轮转补发，同一玩家不会重复持有同一种身份。
func (e *Engine) assignRoles() {
	var pool []RoleKind
	for _, kind := range AllRoleKinds() {
		for i := 0; i < e.cfg.Roles[kind]; i++ {
			pool = append(pool, kind)
		}
	}
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	n := len(e.state.Players)
	for i, p := range e.state.Players {
		p.Roles = []RoleKind{pool[i]}
	}
	for j := n; j < len(pool); j++ {
		kind := pool[j]
		for k := 0; k < n; k++ {
			p := e.state.Players[(j+k)%n]
			if !p.HasRole(kind) {
				p.Roles = append(p.Roles, kind)
				break
			}
		}
	}
}

// BeginNight 进入夜晚
// 进入夜晚时天数与回合数各加一。
func (e *Engine) BeginNight() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrGameNotStarted
	}
	switch e.state.Phase {
	case PhaseSetup:
	case PhaseDayVoting:
		if !e.dayResolved {
			return fmt.Errorf("%w: %s", ErrPhaseNotResolved, e.state.Phase)
		}
		if e.state.Winner != nil {
			return ErrGameFinished
		}
	default:
		return fmt.Errorf("%w: %s不能进入夜晚", ErrWrongPhase, e.state.Phase)
	}

	from := e.state.Phase
	e.state.Day++
	e.state.Turn++
	e.state.Phase = PhaseNight
	e.nightResolved = false
	e.lastNight = nil

	var required, team []string
	for _, p := range e.state.AlivePlayers() {
		if p.Team() == TeamMafia {
			team = append(team, p.ID)
		}
		if _, ok := individualNightAbility(e.registry, e.state, p); ok {
			required = append(required, p.ID)
		}
	}
	e.collector = NewCollector(PhaseNight, e.state.Day, required, team)

	e.emitPhaseChanged(from, PhaseNight)
	return nil
}

// SubmitNightDecision 提交夜晚行动
// 同一行动者重复提交时以最后一次为准。
func (e *Engine) SubmitNightDecision(actor string, d Decision) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseNight {
		return fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	p := e.state.FindPlayer(actor)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	if !p.Alive {
		return fmt.Errorf("%w: %s", ErrActorNotAlive, actor)
	}
	ability, _, ok := e.registry.AbilityOf(p, d.Kind)
	if !ok {
		return fmt.Errorf("%w: %s没有%s", ErrNoSuchAbility, actor, d.Kind)
	}
	if ability.Cadence == CadenceOnce && e.state.UsedShots[actor] {
		return fmt.Errorf("%w: %s", ErrAbilityConsumed, actor)
	}

	a := e.collector.PutAction(NightAction{Actor: actor, Kind: d.Kind, Target: d.Target})
	e.emit(Event{
		Type:       EventNightActionSubmitted,
		Visibility: VisibilityAdminOnly,
		Actor:      actor,
		Target:     d.Target,
		Payload: map[string]interface{}{
			"kind": string(d.Kind),
			"seq":  a.Seq,
		},
	})
	if d.Kind == ActionKill {
		e.emit(Event{
			Type:       EventKillNominated,
			Visibility: VisibilityPrivateTeam,
			Team:       TeamMafia,
			Actor:      actor,
			Target:     d.Target,
		})
	}
	return nil
}

// PhaseComplete 判断当前阶段的完整性条件是否满足
func (e *Engine) PhaseComplete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.collector == nil {
		return false
	}
	return e.collector.Complete()
}

// MissingActors 返回尚未表态的行动者
func (e *Engine) MissingActors() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.collector == nil {
		return nil
	}
	return e.collector.Missing()
}

// ResolveNight 结算夜晚
// force为假时要求完整性条件已满足，否则视为调用方错误；
// force为真（截止触发）时为缺席者补默认行动后强制结算。
func (e *Engine) ResolveNight(force bool) (*NightOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseNight {
		return nil, fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	if e.nightResolved {
		return e.lastNight, nil
	}
	if !force && !e.collector.Complete() {
		return nil, fmt.Errorf("%w: 夜晚%d缺少%v", ErrPhaseNotComplete, e.state.Day, e.collector.Missing())
	}

	out := resolveNight(e.state, e.cfg, e.registry, e.conflict, e.rng, e.collector)
	e.nightResolved = true
	e.lastNight = out

	e.emitNightEvents(out)

	if w := EvaluateWinner(e.state.Players); w != nil {
		e.state.Winner = w
	}
	return out, nil
}

// emitNightEvents 写入夜晚结算产生的全部事件
func (e *Engine) emitNightEvents(out *NightOutcome) {
	for _, s := range out.Substitutions {
		e.emitSubstitution(s)
	}
	if out.ConsensusTarget != "" {
		tally := make(map[string]interface{}, len(out.Tally))
		for target, n := range out.Tally {
			tally[target] = n
		}
		e.emit(Event{
			Type:       EventKillConsensus,
			Visibility: VisibilityPrivateTeam,
			Team:       TeamMafia,
			Target:     out.ConsensusTarget,
			Payload: map[string]interface{}{
				"tally": tally,
			},
		})
	}
	for _, s := range out.Shots {
		if s.Suppressed {
			continue
		}
		actor := e.state.FindPlayer(s.Actor)
		e.emit(Event{
			Type:       EventShotFired,
			Visibility: VisibilityPrivateTeam,
			Team:       actor.Team(),
			Audience:   s.Actor,
			Actor:      s.Actor,
			Target:     s.Target,
		})
	}
	for _, pr := range out.Protections {
		actor := e.state.FindPlayer(pr.Actor)
		e.emit(Event{
			Type:       EventProtectResolved,
			Visibility: VisibilityPrivateTeam,
			Team:       actor.Team(),
			Audience:   pr.Actor,
			Actor:      pr.Actor,
			Target:     pr.Target,
			Payload: map[string]interface{}{
				"saved": pr.Saved,
			},
		})
	}
	for _, inv := range out.Investigations {
		actor := e.state.FindPlayer(inv.Actor)
		e.emit(Event{
			Type:       EventInvestigateResult,
			Visibility: VisibilityPrivateTeam,
			Team:       actor.Team(),
			Audience:   inv.Actor,
			Actor:      inv.Actor,
			Target:     inv.Target,
			Payload: map[string]interface{}{
				"roles": roleNames(inv.Reported),
			},
		})
		if inv.Disclosed {
			e.emit(Event{
				Type:       EventInvestigateResult,
				Visibility: VisibilityPrivateTeam,
				Team:       TeamMafia,
				Actor:      inv.Actor,
				Target:     inv.Target,
				Payload: map[string]interface{}{
					"roles":     roleNames(inv.Actual),
					"disclosed": true,
				},
			})
		}
	}
	for _, adj := range out.Adjustments {
		e.emit(Event{
			Type:       EventConflictAdjusted,
			Visibility: VisibilityAdminOnly,
			Actor:      adj.Actor,
			Target:     adj.Target,
			Payload: map[string]interface{}{
				"action":     string(adj.Action),
				"adjustment": string(adj.Adjustment),
			},
		})
	}
	deaths := make([]interface{}, 0, len(out.Deaths))
	for _, d := range out.Deaths {
		causes := make([]string, len(d.Causes))
		for i, c := range d.Causes {
			causes[i] = string(c)
		}
		deaths = append(deaths, map[string]interface{}{
			"player": d.PlayerID,
			"causes": causes,
		})
	}
	e.emit(Event{
		Type:       EventNightResolved,
		Visibility: VisibilityAdminOnly,
		Payload: map[string]interface{}{
			"consensus_target": out.ConsensusTarget,
			"kill_blocked":     out.KillBlocked,
			"deaths":           deaths,
		},
	})
}

// emitSubstitution 写入替换流水（仅管理员可见，行动者只看到合法结果）
func (e *Engine) emitSubstitution(s Substitution) {
	e.emit(Event{
		Type:       EventNightActionSubstituted,
		Visibility: VisibilityAdminOnly,
		Actor:      s.Actor,
		Target:     s.Final,
		Payload: map[string]interface{}{
			"action":   string(s.Action),
			"original": s.Original,
			"reason":   string(s.Reason),
		},
	})
}

// BeginReveal 进入清晨公布阶段，公开死亡名单
func (e *Engine) BeginReveal() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseNight {
		return fmt.Errorf("%w: %s不能进入清晨", ErrWrongPhase, e.state.Phase)
	}
	if !e.nightResolved {
		return fmt.Errorf("%w: %s", ErrPhaseNotResolved, e.state.Phase)
	}
	if e.state.Winner != nil {
		return ErrGameFinished
	}

	from := e.state.Phase
	e.state.Phase = PhaseMorningReveal
	e.emitPhaseChanged(from, PhaseMorningReveal)

	dead := e.lastNight.DeadIDs()
	e.emit(Event{
		Type:       EventMorningReveal,
		Visibility: VisibilityPublic,
		Payload: map[string]interface{}{
			"deaths": dead,
			"count":  len(dead),
		},
	})
	for _, id := range dead {
		p := e.state.FindPlayer(id)
		e.emit(Event{
			Type:       EventPlayerDied,
			Visibility: VisibilityPublic,
			Target:     id,
			Payload: map[string]interface{}{
				"name":   p.Name,
				"reason": "night",
			},
		})
	}
	return nil
}

// BeginDiscussion 进入白天讨论阶段
// 讨论不收集决策，由调度方按截止时间推进。
func (e *Engine) BeginDiscussion() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseMorningReveal {
		return fmt.Errorf("%w: %s不能进入讨论", ErrWrongPhase, e.state.Phase)
	}
	from := e.state.Phase
	e.state.Phase = PhaseDayDiscussion
	e.collector = nil
	e.emitPhaseChanged(from, PhaseDayDiscussion)
	return nil
}

// BeginVoting 进入白天投票阶段
func (e *Engine) BeginVoting() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseDayDiscussion {
		return fmt.Errorf("%w: %s不能进入投票", ErrWrongPhase, e.state.Phase)
	}
	from := e.state.Phase
	e.state.Phase = PhaseDayVoting
	e.dayResolved = false
	e.lastDay = nil
	e.collector = NewCollector(PhaseDayVoting, e.state.Day, e.state.AliveIDs(), nil)
	e.emitPhaseChanged(from, PhaseDayVoting)
	return nil
}

// SubmitVote 提交投票，目标为空串表示弃权
// 同一投票者当天重复提交时以最后一票为准。
func (e *Engine) SubmitVote(voter, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseDayVoting {
		return fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	p := e.state.FindPlayer(voter)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownActor, voter)
	}
	if !p.Alive {
		return fmt.Errorf("%w: %s", ErrActorNotAlive, voter)
	}

	v := e.collector.PutVote(Vote{Voter: voter, Target: target})
	if target == "" {
		e.emit(Event{
			Type:       EventVoteAbstained,
			Visibility: VisibilityPublic,
			Actor:      voter,
		})
		return nil
	}
	e.emit(Event{
		Type:       EventVoteCast,
		Visibility: VisibilityPublic,
		Actor:      voter,
		Target:     target,
		Payload: map[string]interface{}{
			"seq": v.Seq,
		},
	})
	return nil
}

// ResolveDay 结算白天投票
// force语义与ResolveNight一致。
func (e *Engine) ResolveDay(force bool) (*DayOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase != PhaseDayVoting {
		return nil, fmt.Errorf("%w: 当前阶段%s", ErrWrongPhase, e.state.Phase)
	}
	if e.dayResolved {
		return e.lastDay, nil
	}
	if !force && !e.collector.Complete() {
		return nil, fmt.Errorf("%w: 白天%d缺少%v", ErrPhaseNotComplete, e.state.Day, e.collector.Missing())
	}

	out := resolveDay(e.state, e.collector)
	e.dayResolved = true
	e.lastDay = out

	for _, s := range out.Substitutions {
		e.emitSubstitution(s)
	}
	tally := make(map[string]interface{}, len(out.Tally))
	for target, n := range out.Tally {
		tally[target] = n
	}
	switch out.Verdict {
	case VerdictElimination:
		p := e.state.FindPlayer(out.Eliminated)
		e.emit(Event{
			Type:       EventElimination,
			Visibility: VisibilityPublic,
			Target:     out.Eliminated,
			Payload: map[string]interface{}{
				"votes": out.MaxCount,
				"tally": tally,
			},
		})
		e.emit(Event{
			Type:       EventPlayerDied,
			Visibility: VisibilityPublic,
			Target:     out.Eliminated,
			Payload: map[string]interface{}{
				"name":   p.Name,
				"reason": "elimination",
			},
		})
	case VerdictTie:
		e.emit(Event{
			Type:       EventVoteTie,
			Visibility: VisibilityPublic,
			Payload: map[string]interface{}{
				"leaders": out.Leaders,
				"votes":   out.MaxCount,
				"tally":   tally,
			},
		})
	case VerdictNoMajority:
		e.emit(Event{
			Type:       EventNoMajority,
			Visibility: VisibilityPublic,
			Payload: map[string]interface{}{
				"leaders": out.Leaders,
				"votes":   out.MaxCount,
				"tally":   tally,
			},
		})
	case VerdictNoVotes:
		e.emit(Event{
			Type:       EventNoVotes,
			Visibility: VisibilityPublic,
		})
	}

	if w := EvaluateWinner(e.state.Players); w != nil {
		e.state.Winner = w
	}
	return out, nil
}

// Winner 返回获胜阵营，未分出胜负时为nil
func (e *Engine) Winner() *Team {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Winner
}

// Finish 终结游戏并公开完整身份表
// 只有胜负已定时才能终结。
func (e *Engine) Finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == PhaseGameOver {
		return nil
	}
	if e.state.Winner == nil {
		return ErrNoWinner
	}

	from := e.state.Phase
	e.state.Phase = PhaseGameOver
	e.collector = nil
	e.emitPhaseChanged(from, PhaseGameOver)

	table := make(map[string]interface{}, len(e.state.Players))
	for _, p := range e.state.Players {
		table[p.ID] = p.RoleNames()
	}
	e.emit(Event{
		Type:       EventGameOver,
		Visibility: VisibilityPublic,
		Payload: map[string]interface{}{
			"winner": string(*e.state.Winner),
			"roles":  table,
			"days":   e.state.Day,
		},
	})
	return nil
}

// Events 按许可读取事件，只读无副作用
func (e *Engine) Events(c Clearance) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log.Filter(c)
}

// EventsSince 按许可读取序号之后的事件
func (e *Engine) EventsSince(c Clearance, afterSeq int64) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.log.FilterSince(c, afterSeq)
}

// StateView 返回当前状态的公开视图
func (e *Engine) StateView() StateView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	players := make([]PlayerView, 0, len(e.state.Players))
	for _, p := range e.state.Players {
		players = append(players, PlayerView{ID: p.ID, Name: p.Name, Seat: p.Seat, Alive: p.Alive})
	}
	return StateView{
		GameID:  e.state.GameID,
		Phase:   e.state.Phase,
		Day:     e.state.Day,
		Turn:    e.state.Turn,
		Players: players,
		Winner:  e.state.Winner,
	}
}

// Phase 返回当前阶段
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Phase
}

// Roster 返回存活玩家视图（供决策方构造提示）
func (e *Engine) Roster() []PlayerView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PlayerView, 0, len(e.state.Players))
	for _, p := range e.state.Players {
		if p.Alive {
			out = append(out, PlayerView{ID: p.ID, Name: p.Name, Seat: p.Seat, Alive: true})
		}
	}
	return out
}

// PlayerTeam 返回玩家的实际阵营
func (e *Engine) PlayerTeam(id string) (Team, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.state.FindPlayer(id)
	if p == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	return p.Team(), nil
}

// PlayerRoles 返回玩家的角色集合副本
func (e *Engine) PlayerRoles(id string) ([]RoleKind, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.state.FindPlayer(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	roles := make([]RoleKind, len(p.Roles))
	copy(roles, p.Roles)
	return roles, nil
}

// LastNight 返回最近一次夜晚结算结果
func (e *Engine) LastNight() *NightOutcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastNight
}

// LastDay 返回最近一次白天结算结果
func (e *Engine) LastDay() *DayOutcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastDay
}

// emitPhaseChanged 写入阶段转换事件
func (e *Engine) emitPhaseChanged(from, to Phase) {
	e.emit(Event{
		Type:       EventPhaseChanged,
		Visibility: VisibilityPublic,
		Payload: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
			"day":  e.state.Day,
			"turn": e.state.Turn,
		},
	})
}

// emit 写入事件，自动补齐阶段与时间信息
// 引擎自身构造的事件字段齐全，写入失败属于编程错误。
func (e *Engine) emit(ev Event) Event {
	ev.GameID = e.state.GameID
	ev.Phase = e.state.Phase
	ev.Day = e.state.Day
	ev.Turn = e.state.Turn
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	out, err := e.log.Append(ev)
	if err != nil {
		panic(fmt.Sprintf("mafia: 事件写入失败: %v", err))
	}
	return out
}

// roleNames 角色名称列表
func roleNames(kinds []RoleKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// Snapshot 可序列化的完整游戏快照
// 覆盖状态、事件日志与未结算的提交，足以在重启后精确恢复。
type Snapshot struct {
	Config         Config        `json:"config"`
	State          *GameState    `json:"state"`
	Events         []Event       `json:"events"`
	NextEventSeq   int64         `json:"next_event_seq"`
	Started        bool          `json:"started"`
	NightResolved  bool          `json:"night_resolved"`
	DayResolved    bool          `json:"day_resolved"`
	PendingActions []NightAction `json:"pending_actions,omitempty"`
	PendingVotes   []Vote        `json:"pending_votes,omitempty"`
	CollectorSeq   int           `json:"collector_seq"`
	LastNight      *NightOutcome `json:"last_night,omitempty"`
	LastDay        *DayOutcome   `json:"last_day,omitempty"`
	TakenAt        time.Time     `json:"taken_at"`
}

// Snapshot 生成当前时刻的完整快照
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &Snapshot{
		Config:        e.cfg,
		State:         copyState(e.state),
		Events:        e.log.All(),
		NextEventSeq:  e.log.nextSeq,
		Started:       e.started,
		NightResolved: e.nightResolved,
		DayResolved:   e.dayResolved,
		LastNight:     e.lastNight,
		LastDay:       e.lastDay,
		TakenAt:       time.Now(),
	}
	if e.collector != nil {
		snap.PendingActions = e.collector.Actions()
		snap.PendingVotes = e.collector.Votes()
		snap.CollectorSeq = e.collector.nextSeq
	}
	return snap
}

// RestoreEngine 从快照恢复引擎
// 恢复后的随机流从种子重新开始，已成事实的结算不受影响。
func RestoreEngine(snap *Snapshot) (*Engine, error) {
	if snap == nil || snap.State == nil {
		return nil, fmt.Errorf("%w: 快照为空", ErrInvalidConfig)
	}
	if err := snap.Config.Validate(); err != nil {
		return nil, err
	}

	registry := NewRegistry()
	e := &Engine{
		cfg:           snap.Config,
		registry:      registry,
		conflict:      NewConflictResolver(snap.Config, registry),
		rng:           NewRand(snap.State.Seed),
		state:         copyState(snap.State),
		log:           NewEventLog(snap.State.GameID),
		started:       snap.Started,
		nightResolved: snap.NightResolved,
		dayResolved:   snap.DayResolved,
		lastNight:     snap.LastNight,
		lastDay:       snap.LastDay,
	}
	e.log.restore(snap.Events, snap.NextEventSeq)

	switch e.state.Phase {
	case PhaseNight:
		var required, team []string
		for _, p := range e.state.AlivePlayers() {
			if p.Team() == TeamMafia {
				team = append(team, p.ID)
			}
			if _, ok := individualNightAbility(e.registry, e.state, p); ok {
				required = append(required, p.ID)
			}
		}
		e.collector = NewCollector(PhaseNight, e.state.Day, required, team)
		e.collector.restorePending(snap.PendingActions, nil, snap.CollectorSeq)
	case PhaseDayVoting:
		e.collector = NewCollector(PhaseDayVoting, e.state.Day, e.state.AliveIDs(), nil)
		e.collector.restorePending(nil, snap.PendingVotes, snap.CollectorSeq)
	}
	return e, nil
}

// copyState 深拷贝游戏状态
func copyState(st *GameState) *GameState {
	out := &GameState{
		GameID:        st.GameID,
		Phase:         st.Phase,
		Day:           st.Day,
		Turn:          st.Turn,
		UsedShots:     make(map[string]bool, len(st.UsedShots)),
		LastProtected: make(map[string]string, len(st.LastProtected)),
		Seed:          st.Seed,
		StartedAt:     st.StartedAt,
	}
	out.Players = make([]*Player, 0, len(st.Players))
	for _, p := range st.Players {
		roles := make([]RoleKind, len(p.Roles))
		copy(roles, p.Roles)
		out.Players = append(out.Players, &Player{
			ID: p.ID, Name: p.Name, Seat: p.Seat, Roles: roles, Alive: p.Alive, DeathDay: p.DeathDay,
		})
	}
	for k, v := range st.UsedShots {
		out.UsedShots[k] = v
	}
	for k, v := range st.LastProtected {
		out.LastProtected[k] = v
	}
	if st.Winner != nil {
		w := *st.Winner
		out.Winner = &w
	}
	sort.Slice(out.Players, func(i, j int) bool { return out.Players[i].Seat < out.Players[j].Seat })
	return out
}
