package mafia

import (
	"fmt"
	"time"
)

// Team 阵营
type Team string

const (
	TeamMafia Team = "MAFIA" // 黑手党阵营
	TeamTown  Team = "TOWN"  // 平民阵营
)

// RoleKind 角色种类（封闭集合，新增角色需要同时扩展所有switch分支）
type RoleKind int

const (
	RoleMafia RoleKind = iota // 黑手党
	RoleDoctor                // 医生
	RoleSheriff               // 警长
	RoleVigilante             // 义警
	RoleVillager              // 村民
)

// String 返回角色名称
func (r RoleKind) String() string {
	switch r {
	case RoleMafia:
		return "MAFIA"
	case RoleDoctor:
		return "DOCTOR"
	case RoleSheriff:
		return "SHERIFF"
	case RoleVigilante:
		return "VIGILANTE"
	case RoleVillager:
		return "VILLAGER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(r))
	}
}

// ParseRoleKind 从名称解析角色种类
func ParseRoleKind(name string) (RoleKind, error) {
	switch name {
	case "MAFIA", "mafia":
		return RoleMafia, nil
	case "DOCTOR", "doctor":
		return RoleDoctor, nil
	case "SHERIFF", "sheriff":
		return RoleSheriff, nil
	case "VIGILANTE", "vigilante":
		return RoleVigilante, nil
	case "VILLAGER", "villager":
		return RoleVillager, nil
	default:
		return 0, fmt.Errorf("未知的角色名称: %s", name)
	}
}

// AllRoleKinds 返回全部角色种类
func AllRoleKinds() []RoleKind {
	return []RoleKind{RoleMafia, RoleDoctor, RoleSheriff, RoleVigilante, RoleVillager}
}

// MarshalJSON 以角色名称序列化
func (r RoleKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// MarshalText 供map键序列化使用
func (r RoleKind) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText 供map键反序列化使用
func (r *RoleKind) UnmarshalText(text []byte) error {
	kind, err := ParseRoleKind(string(text))
	if err != nil {
		return err
	}
	*r = kind
	return nil
}

// UnmarshalJSON 从角色名称反序列化
func (r *RoleKind) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	kind, err := ParseRoleKind(s)
	if err != nil {
		return err
	}
	*r = kind
	return nil
}

// ActionKind 夜晚行动类型
type ActionKind string

const (
	ActionKill        ActionKind = "KILL"        // 黑手党击杀（团队行动）
	ActionProtect     ActionKind = "PROTECT"     // 医生保护
	ActionInvestigate ActionKind = "INVESTIGATE" // 警长查验
	ActionShoot       ActionKind = "SHOOT"       // 义警开枪（一次性）
)

// Visibility 事件可见性
type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"       // 所有人可见
	VisibilityPrivateTeam Visibility = "PRIVATE_TEAM" // 指定阵营可见
	VisibilityAdminOnly   Visibility = "ADMIN_ONLY"   // 仅管理员可见
)

// Phase 游戏阶段
type Phase string

const (
	PhaseSetup         Phase = "SETUP"          // 设置阶段
	PhaseNight         Phase = "NIGHT"          // 夜晚
	PhaseMorningReveal Phase = "MORNING_REVEAL" // 清晨公布
	PhaseDayDiscussion Phase = "DAY_DISCUSSION" // 白天讨论
	PhaseDayVoting     Phase = "DAY_VOTING"     // 白天投票
	PhaseGameOver      Phase = "GAME_OVER"      // 游戏结束
)

// EventType 事件类型
type EventType string

const (
	// 游戏生命周期
	EventGameCreated  EventType = "game.created"       // 游戏创建
	EventPlayerJoined EventType = "game.player_joined" // 玩家加入
	EventRoleAssigned EventType = "game.role_assigned" // 角色分配（仅本人可见）
	EventTeamRoster   EventType = "game.team_roster"   // 阵营名单（黑手党团队可见）
	EventRoleTable    EventType = "game.role_table"    // 完整角色表（仅管理员）
	EventGameStarted  EventType = "game.started"       // 游戏开始
	EventGameOver     EventType = "game.over"          // 游戏结束

	// 阶段
	EventPhaseChanged EventType = "phase.changed" // 阶段转换

	// 夜晚
	EventNightActionSubmitted   EventType = "night.action_submitted"   // 夜晚行动提交（仅管理员）
	EventNightActionSubstituted EventType = "night.action_substituted" // 夜晚行动被替换（仅管理员）
	EventKillNominated          EventType = "night.kill_nominated"     // 击杀提名（团队可见）
	EventKillConsensus          EventType = "night.kill_consensus"     // 击杀共识（团队可见）
	EventProtectResolved        EventType = "night.protect_resolved"   // 保护结算（仅医生）
	EventInvestigateResult      EventType = "night.investigate_result" // 查验结果（仅警长）
	EventShotFired              EventType = "night.shot_fired"         // 开枪记录（仅义警）
	EventNightResolved          EventType = "night.resolved"           // 夜晚结算明细（仅管理员）

	// 清晨
	EventMorningReveal EventType = "day.morning_reveal" // 清晨公布死亡名单
	EventPlayerDied    EventType = "player.died"        // 玩家死亡

	// 白天
	EventVoteCast      EventType = "day.vote_cast"      // 投票
	EventVoteAbstained EventType = "day.vote_abstained" // 弃权
	EventElimination   EventType = "day.elimination"    // 放逐
	EventVoteTie       EventType = "day.vote_tie"       // 平票
	EventNoMajority    EventType = "day.no_majority"    // 票数不足
	EventNoVotes       EventType = "day.no_votes"       // 无人投票

	// 多重角色
	EventConflictAdjusted EventType = "conflict.adjusted" // 双面角色结果被调整（仅管理员）
)

// Player 玩家
type Player struct {
	ID       string     `json:"id"`        // 玩家ID
	Name     string     `json:"name"`      // 显示名称
	Seat     int        `json:"seat"`      // 加入顺序
	Roles    []RoleKind `json:"roles"`     // 角色集合（通常一个，多重角色模式下可能多个）
	Alive    bool       `json:"alive"`     // 存活标记
	DeathDay int        `json:"death_day"` // 死亡日（存活时为0）
}

// HasRole 判断玩家是否持有指定角色
func (p *Player) HasRole(kind RoleKind) bool {
	for _, r := range p.Roles {
		if r == kind {
			return true
		}
	}
	return false
}

// Team 玩家的实际阵营（持有黑手党角色即属于黑手党）
func (p *Player) Team() Team {
	for _, r := range p.Roles {
		if roleTeam(r) == TeamMafia {
			return TeamMafia
		}
	}
	return TeamTown
}

// RoleNames 返回角色名称列表
func (p *Player) RoleNames() []string {
	names := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		names[i] = r.String()
	}
	return names
}

// NightAction 夜晚行动
type NightAction struct {
	Actor       string     `json:"actor"`        // 行动者ID
	Kind        ActionKind `json:"kind"`         // 行动类型
	Target      string     `json:"target"`       // 目标ID（空串=放弃行动）
	Night       int        `json:"night"`        // 夜晚序号
	Seq         int        `json:"seq"`          // 提交序号（先提交者优先）
	SubmittedAt time.Time  `json:"submitted_at"` // 提交时间
}

// Vote 白天投票
type Vote struct {
	Voter       string    `json:"voter"`        // 投票者ID
	Target      string    `json:"target"`       // 目标ID（空串=弃权）
	Day         int       `json:"day"`          // 白天序号
	Seq         int       `json:"seq"`          // 提交序号
	SubmittedAt time.Time `json:"submitted_at"` // 提交时间
}

// Decision 决策提供者返回的单次决策
type Decision struct {
	Kind   ActionKind `json:"kind,omitempty"` // 夜晚行动类型（投票阶段忽略）
	Target string     `json:"target"`         // 目标玩家ID（空串=弃权/放弃）
}

// Event 事件记录（仅追加，创建后不可变更）
type Event struct {
	Seq        int64                  `json:"seq"`                // 单调递增序号
	GameID     string                 `json:"game_id"`            // 游戏ID
	Type       EventType              `json:"type"`               // 事件类型
	Visibility Visibility             `json:"visibility"`         // 可见性（创建时固定）
	Team       Team                   `json:"team,omitempty"`     // PRIVATE_TEAM事件所属阵营
	Audience   string                 `json:"audience,omitempty"` // 进一步限定到单个玩家（空串=整个阵营）
	Actor      string                 `json:"actor,omitempty"`    // 行动者ID
	Target     string                 `json:"target,omitempty"`   // 目标ID
	Payload    map[string]interface{} `json:"payload,omitempty"`  // 附加数据
	Phase      Phase                  `json:"phase"`              // 所处阶段
	Day        int                    `json:"day"`                // 白天序号
	Turn       int                    `json:"turn"`               // 回合序号
	Timestamp  time.Time              `json:"timestamp"`          // 时间戳
}

// GameState 游戏状态
type GameState struct {
	GameID        string            `json:"game_id"`        // 游戏ID
	Phase         Phase             `json:"phase"`          // 当前阶段
	Day           int               `json:"day"`            // 白天序号（首夜为1）
	Turn          int               `json:"turn"`           // 回合序号
	Players       []*Player         `json:"players"`        // 玩家列表（按座位排序）
	UsedShots     map[string]bool   `json:"used_shots"`     // 一次性技能消耗标记
	LastProtected map[string]string `json:"last_protected"` // 保护者上次保护的目标
	Winner        *Team             `json:"winner"`         // 获胜阵营（未结束时为nil）
	Seed          int64             `json:"seed"`           // 随机种子
	StartedAt     time.Time         `json:"started_at"`     // 开始时间
}

// AlivePlayers 返回存活玩家列表
func (s *GameState) AlivePlayers() []*Player {
	alive := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

// AliveIDs 返回存活玩家ID列表
func (s *GameState) AliveIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Alive {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// FindPlayer 按ID查找玩家
func (s *GameState) FindPlayer(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerView 玩家视图（不含角色信息）
type PlayerView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Seat  int    `json:"seat"`
	Alive bool   `json:"alive"`
}

// StateView 游戏状态视图（只读快照，供查询接口使用）
type StateView struct {
	GameID  string       `json:"game_id"`
	Phase   Phase        `json:"phase"`
	Day     int          `json:"day"`
	Turn    int          `json:"turn"`
	Players []PlayerView `json:"players"`
	Winner  *Team        `json:"winner,omitempty"`
}

// Clearance 事件读取许可
type Clearance struct {
	Level    Visibility `json:"level"`               // 许可级别
	Team     Team       `json:"team,omitempty"`      // PRIVATE_TEAM级别对应的阵营
	PlayerID string     `json:"player_id,omitempty"` // 读取者的玩家ID（用于仅本人可见的事件）
}

// AdminClearance 管理员许可
func AdminClearance() Clearance {
	return Clearance{Level: VisibilityAdminOnly}
}

// PublicClearance 公开许可
func PublicClearance() Clearance {
	return Clearance{Level: VisibilityPublic}
}

// TeamClearance 阵营许可
func TeamClearance(team Team, playerID string) Clearance {
	return Clearance{Level: VisibilityPrivateTeam, Team: team, PlayerID: playerID}
}
