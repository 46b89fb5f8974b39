package agent

import (
	"context"
	"sync"

	"github.com/wfunc/mafia-game/internal/game/mafia"
)

// RandomProvider 均匀随机的内置决策方
// 在行动者的合法目标中等概率选取，整局一次的技能每夜掷硬币决定是否动用。
// 同一种子产生相同的决策序列，用于截止顶替语义的测试与批量模拟。
type RandomProvider struct {
	mu  sync.Mutex
	rng *mafia.Rand
	reg *mafia.Registry
}

// NewRandomProvider 创建随机决策方
func NewRandomProvider(seed int64) *RandomProvider {
	return &RandomProvider{
		rng: mafia.NewRand(seed),
		reg: mafia.NewRegistry(),
	}
}

// DecideNight 随机选取一个技能与合法目标
func (rp *RandomProvider) DecideNight(ctx context.Context, p Perception) (mafia.Decision, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	abilities := rp.nightAbilities(p.Roles)
	if len(abilities) == 0 {
		// 无夜晚技能的玩家不产出行动
		return mafia.Decision{}, nil
	}

	ability := abilities[rp.rng.Intn(len(abilities))]

	// 整局一次的技能每夜掷硬币，留到后面的夜晚也是合法打法
	if ability.Cadence == mafia.CadenceOnce && rp.rng.Intn(2) == 0 {
		return mafia.Decision{Kind: ability.Action, Target: ""}, nil
	}

	target := rp.rng.Pick(rp.candidates(ability, p))
	return mafia.Decision{Kind: ability.Action, Target: target}, nil
}

// DecideVote 在存活的非队友中随机选取放逐目标
func (rp *RandomProvider) DecideVote(ctx context.Context, p Perception) (string, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	var candidates []string
	for _, id := range p.LivingOthers() {
		if p.IsTeammate(id) {
			continue
		}
		candidates = append(candidates, id)
	}
	return rp.rng.Pick(candidates), nil
}

// nightAbilities 汇总全部角色的夜晚技能，重复行动只保留一份
func (rp *RandomProvider) nightAbilities(roles []mafia.RoleKind) []mafia.Ability {
	var out []mafia.Ability
	seen := make(map[mafia.ActionKind]bool)
	for _, kind := range roles {
		d := rp.reg.Descriptor(kind)
		for _, ab := range d.Abilities {
			if seen[ab.Action] {
				continue
			}
			seen[ab.Action] = true
			out = append(out, ab)
		}
	}
	return out
}

// candidates 按技能的目标类别筛选合法目标
func (rp *RandomProvider) candidates(ability mafia.Ability, p Perception) []string {
	switch ability.TargetClass {
	case mafia.TargetAnyLiving:
		return p.Living()
	case mafia.TargetOtherLiving:
		return p.LivingOthers()
	case mafia.TargetEnemyLiving:
		var out []string
		for _, id := range p.LivingOthers() {
			if p.IsTeammate(id) {
				continue
			}
			out = append(out, id)
		}
		return out
	default:
		return nil
	}
}
