package mafia

import (
	"fmt"
	"time"
)

// TieBreak 平票处理方式
type TieBreak string

const (
	// TieBreakNoElimination 平票时无人出局
	TieBreakNoElimination TieBreak = "no_elimination"
)

// Deadlines 各阶段的决策截止时长
type Deadlines struct {
	Night      time.Duration `json:"night"`
	Reveal     time.Duration `json:"reveal"`
	Discussion time.Duration `json:"discussion"`
	Voting     time.Duration `json:"voting"`
}

// MultiRole 多重角色配置
type MultiRole struct {
	Enabled      bool    `json:"enabled"`
	SabotageBias float64 `json:"sabotage_bias"` // 双面角色暗中倒向黑手党的概率
}

// Config 单局游戏配置
type Config struct {
	PlayerCount            int              `json:"player_count"`
	Roles                  map[RoleKind]int `json:"roles"`
	Deadlines              Deadlines        `json:"deadlines"`
	TieBreak               TieBreak         `json:"tie_break"`
	AllowSelfProtectAlways bool             `json:"allow_self_protect_always"`
	AllowSelfInvestigate   bool             `json:"allow_self_investigate"`
	MultiRole              MultiRole        `json:"multi_role"`
	Seed                   int64            `json:"seed"`
}

// DefaultConfig 返回八人标准局配置
func DefaultConfig() Config {
	return Config{
		PlayerCount: 8,
		Roles: map[RoleKind]int{
			RoleMafia:     2,
			RoleDoctor:    1,
			RoleSheriff:   1,
			RoleVigilante: 1,
			RoleVillager:  3,
		},
		Deadlines: Deadlines{
			Night:      60 * time.Second,
			Reveal:     10 * time.Second,
			Discussion: 180 * time.Second,
			Voting:     60 * time.Second,
		},
		TieBreak: TieBreakNoElimination,
		MultiRole: MultiRole{
			Enabled:      false,
			SabotageBias: 0.5,
		},
	}
}

// RolesForPlayers 按人数给出标准身份配比
// 黑手党约占四分之一，警长四人起，医生五人起，义警八人起，余下平民。
func RolesForPlayers(n int) map[RoleKind]int {
	if n < 3 {
		n = 3
	}
	roles := make(map[RoleKind]int)
	mafiaCount := n / 4
	if mafiaCount < 1 {
		mafiaCount = 1
	}
	roles[RoleMafia] = mafiaCount
	if n >= 4 {
		roles[RoleSheriff] = 1
	}
	if n >= 5 {
		roles[RoleDoctor] = 1
	}
	if n >= 8 {
		roles[RoleVigilante] = 1
	}
	assigned := 0
	for _, c := range roles {
		assigned += c
	}
	roles[RoleVillager] = n - assigned
	return roles
}

// Validate 校验配置合法性
// 多重角色未启用时身份总数必须等于玩家数，
// 启用时允许身份总数超出玩家数。
func (c Config) Validate() error {
	if c.PlayerCount < 3 {
		return fmt.Errorf("%w: 玩家数过少%d", ErrInvalidConfig, c.PlayerCount)
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("%w: 身份表为空", ErrInvalidRoleTable)
	}
	total := 0
	mafiaCount := 0
	for kind, n := range c.Roles {
		if n < 0 {
			return fmt.Errorf("%w: %s数量%d", ErrInvalidRoleTable, kind, n)
		}
		switch kind {
		case RoleMafia, RoleDoctor, RoleSheriff, RoleVigilante, RoleVillager:
		default:
			return fmt.Errorf("%w: 未知身份%s", ErrInvalidRoleTable, kind)
		}
		if kind == RoleMafia {
			mafiaCount = n
		}
		total += n
	}
	if mafiaCount == 0 {
		return fmt.Errorf("%w: 缺少黑手党", ErrInvalidRoleTable)
	}
	if mafiaCount >= c.PlayerCount {
		return fmt.Errorf("%w: 黑手党过多%d/%d", ErrInvalidRoleTable, mafiaCount, c.PlayerCount)
	}
	if c.MultiRole.Enabled {
		if total < c.PlayerCount {
			return fmt.Errorf("%w: 身份总数不足%d/%d", ErrInvalidRoleTable, total, c.PlayerCount)
		}
		if c.MultiRole.SabotageBias < 0 || c.MultiRole.SabotageBias > 1 {
			return fmt.Errorf("%w: 破坏倾向%f超出范围", ErrInvalidConfig, c.MultiRole.SabotageBias)
		}
	} else if total != c.PlayerCount {
		return fmt.Errorf("%w: 身份总数%d与玩家数%d不符", ErrInvalidRoleTable, total, c.PlayerCount)
	}
	if c.TieBreak != "" && c.TieBreak != TieBreakNoElimination {
		return fmt.Errorf("%w: 不支持的平票规则%s", ErrInvalidConfig, c.TieBreak)
	}
	return nil
}
